package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maltedev/price-tracker/internal/extract"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/parser"
	"github.com/maltedev/price-tracker/internal/ratelimit"
)

// Flipkart serves at least two markup generations, each ladder carries both.
var (
	flipkartTitleRules = []extract.Rule{
		extract.Text("span.B_NuCI"),
		extract.Text("span._35KyD6"),
	}

	flipkartPriceRules = []extract.Rule{
		extract.Text("div._30jeq3._16Jk6d"),
		extract.Text("div._30jeq3"),
	}

	flipkartImageRules = []extract.Rule{
		extract.Attr("img._396cs4", "src"),
		extract.Attr("img._2r_T1I", "src"),
	}

	flipkartFeatureRules = []extract.Rule{
		extract.Text("ul._1xgFaf li"),
		extract.Text("div._2418kt ul li"),
	}
)

const captchaMarker = "captcha"

// HTMLFetcher returns the raw HTML of a page.
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, url string) (string, error)
}

type FlipkartScraper struct {
	fetcher HTMLFetcher
	limiter ratelimit.RateLimiter
	logger  *slog.Logger
}

func NewFlipkartScraper(f HTMLFetcher, limiter ratelimit.RateLimiter, logger *slog.Logger) *FlipkartScraper {
	return &FlipkartScraper{
		fetcher: f,
		limiter: limiter,
		logger:  logger.With("component", "flipkart_scraper"),
	}
}

func (s *FlipkartScraper) Site() models.Site {
	return models.SiteFlipkart
}

func (s *FlipkartScraper) Extract(ctx context.Context, rawURL string) (*models.ExtractedProduct, error) {
	if _, err := ValidateFlipkartURL(rawURL); err != nil {
		return nil, err
	}

	productID, err := ExtractFlipkartID(rawURL)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("scraping product", "product_id", productID, "url", rawURL)

	html, err := s.fetcher.FetchHTML(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}

	if isBlocked(html) {
		s.logger.Warn("detected captcha page", "product_id", productID)
		return nil, ErrBlocked
	}

	doc, err := parser.Parse(html)
	if err != nil {
		return nil, err
	}

	product := s.extractFields(doc)
	product.Identifier = productID

	s.logger.Info("extracted product",
		"product_id", productID,
		"hasTitle", product.Title != "",
		"hasPrice", product.Price != nil,
		"featureCount", len(product.Features),
	)

	return product, nil
}

func (s *FlipkartScraper) extractFields(page extract.Page) *models.ExtractedProduct {
	product := &models.ExtractedProduct{
		Site:     models.SiteFlipkart,
		Title:    extract.ResolveOr(page, flipkartTitleRules, ""),
		Price:    extract.NormalizePrice(extract.ResolveOr(page, flipkartPriceRules, PricePlaceholder)),
		Features: []string{},
	}

	if image, err := extract.Resolve(page, flipkartImageRules); err == nil {
		product.ImageURL = stringPtr(image)
	}

	if features, err := extract.ResolveAll(page, flipkartFeatureRules); err == nil {
		product.Features = features
	}

	return product
}

func isBlocked(html string) bool {
	return strings.TrimSpace(html) == "" || strings.Contains(strings.ToLower(html), captchaMarker)
}
