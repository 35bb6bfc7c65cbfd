package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/price-tracker/internal/browser"
	"github.com/maltedev/price-tracker/internal/extract"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/ratelimit"
)

var (
	amazonTitleRules = []extract.Rule{
		extract.Text("#productTitle"),
		extract.Text("#title"),
		extract.Text("h1#title span"),
	}

	amazonPriceRules = []extract.Rule{
		extract.Text("#priceblock_ourprice"),
		extract.Text("#priceblock_dealprice"),
		extract.Text("#priceblock_saleprice"),
		extract.Text(".a-price .a-offscreen"),
		extract.Text("#corePrice_feature_div .a-offscreen"),
	}

	amazonImageRules = []extract.Rule{
		extract.Attr("#landingImage", "src"),
		extract.Attr("#imgTagWrapperId img", "src"),
	}

	amazonFeatureRules = []extract.Rule{
		extract.Text("#feature-bullets ul li span"),
		extract.Text("#feature-bullets span.a-list-item"),
	}

	// any match means we were served a robot check instead of the product
	amazonCaptchaRules = []extract.Rule{
		extract.Attr("form[action*='Captcha']", "action"),
		extract.Attr("input#captchacharacters", "id"),
	}
)

type AmazonScraper struct {
	launcher browser.Launcher
	limiter  ratelimit.RateLimiter
	logger   *slog.Logger
}

func NewAmazonScraper(l browser.Launcher, limiter ratelimit.RateLimiter, logger *slog.Logger) *AmazonScraper {
	return &AmazonScraper{
		launcher: l,
		limiter:  limiter,
		logger:   logger.With("component", "amazon_scraper"),
	}
}

func (s *AmazonScraper) Site() models.Site {
	return models.SiteAmazon
}

// Extract renders rawURL in a fresh browser and reads the product fields.
// The identifier is checked before any browser is started.
func (s *AmazonScraper) Extract(ctx context.Context, rawURL string) (*models.ExtractedProduct, error) {
	if _, err := ValidateHTTPURL(rawURL); err != nil {
		return nil, err
	}

	asin, err := ExtractASIN(rawURL)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("scraping product", "asin", asin, "url", rawURL)

	session, err := s.launcher.Open(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			s.logger.Warn("failed to release browser", "asin", asin, "error", err)
		}
	}()

	product, err := s.extractFields(session)
	if err != nil {
		return nil, err
	}
	product.Identifier = asin

	s.logger.Info("extracted product",
		"asin", asin,
		"hasPrice", product.Price != nil,
		"hasImage", product.ImageURL != nil,
		"featureCount", len(product.Features),
	)

	return product, nil
}

func (s *AmazonScraper) extractFields(page extract.Page) (*models.ExtractedProduct, error) {
	if _, err := extract.Resolve(page, amazonCaptchaRules); err == nil {
		s.logger.Warn("detected captcha page")
		return nil, ErrBlocked
	}

	title, err := extract.Resolve(page, amazonTitleRules)
	if err != nil {
		return nil, ErrTitleNotFound
	}

	product := &models.ExtractedProduct{
		Site:  models.SiteAmazon,
		Title: title,
		Price: extract.NormalizePrice(extract.ResolveOr(page, amazonPriceRules, PricePlaceholder)),
	}

	if image, err := extract.Resolve(page, amazonImageRules); err == nil {
		product.ImageURL = stringPtr(image)
	}

	features, err := extract.ResolveAll(page, amazonFeatureRules)
	if err != nil {
		features = []string{FeaturesPlaceholder}
	}
	product.Features = features

	return product, nil
}
