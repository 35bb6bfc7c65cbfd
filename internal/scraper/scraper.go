package scraper

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/maltedev/price-tracker/internal/models"
)

var (
	ErrInvalidURL        = errors.New("invalid product URL")
	ErrInvalidIdentifier = errors.New("no product identifier in URL")
	ErrTitleNotFound     = errors.New("product title not found")
	ErrBlocked           = errors.New("blocked by bot protection")
)

const (
	PricePlaceholder    = "Price not found"
	FeaturesPlaceholder = "No features found"
)

var (
	asinPattern       = regexp.MustCompile(`/dp/([A-Z0-9]{10})`)
	flipkartIDPattern = regexp.MustCompile(`/p/([^/?]+)`)
)

// Extractor turns a product URL into a normalized product.
type Extractor interface {
	Site() models.Site
	Extract(ctx context.Context, rawURL string) (*models.ExtractedProduct, error)
}

// ExtractASIN returns the 10-character catalog code following /dp/.
func ExtractASIN(rawURL string) (string, error) {
	matches := asinPattern.FindStringSubmatch(rawURL)
	if len(matches) < 2 {
		return "", ErrInvalidIdentifier
	}
	return matches[1], nil
}

// ExtractFlipkartID returns the path segment following /p/.
func ExtractFlipkartID(rawURL string) (string, error) {
	matches := flipkartIDPattern.FindStringSubmatch(rawURL)
	if len(matches) < 2 {
		return "", ErrInvalidIdentifier
	}
	return matches[1], nil
}

// ValidateHTTPURL accepts absolute http(s) URLs only.
func ValidateHTTPURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, ErrInvalidURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrInvalidURL
	}
	return u, nil
}

// ValidateFlipkartURL additionally requires the host to be a flipkart domain.
func ValidateFlipkartURL(rawURL string) (*url.URL, error) {
	u, err := ValidateHTTPURL(rawURL)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(strings.ToLower(u.Hostname()), "flipkart") {
		return nil, ErrInvalidURL
	}
	return u, nil
}

func stringPtr(s string) *string {
	return &s
}
