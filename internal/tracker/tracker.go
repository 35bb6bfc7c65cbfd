package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/scraper"
)

// ErrUnsupportedSite is returned for a site with no registered extractor.
var ErrUnsupportedSite = errors.New("unsupported site")

// Store is the product repository the tracker writes observations to.
type Store interface {
	Upsert(ctx context.Context, p *models.ExtractedProduct, observedAt time.Time) (*models.ProductRecord, error)
	FindByIdentifier(ctx context.Context, id string) (*models.ProductRecord, error)
}

// Service runs one scrape: extract, persist the observation, return the product.
type Service struct {
	extractors map[models.Site]scraper.Extractor
	store      Store
	now        func() time.Time
	logger     *slog.Logger
}

func NewService(store Store, logger *slog.Logger, extractors ...scraper.Extractor) *Service {
	byName := make(map[models.Site]scraper.Extractor, len(extractors))
	for _, e := range extractors {
		byName[e.Site()] = e
	}
	return &Service{
		extractors: byName,
		store:      store,
		now:        time.Now,
		logger:     logger.With("component", "tracker"),
	}
}

// Scrape extracts the product at rawURL and records it. Nothing is stored
// unless extraction succeeds.
func (s *Service) Scrape(ctx context.Context, site models.Site, rawURL string) (*models.ExtractedProduct, error) {
	extractor, ok := s.extractors[site]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSite, site)
	}

	start := time.Now()
	product, err := extractor.Extract(ctx, rawURL)
	if err != nil {
		s.logger.Warn("extraction failed", "site", site, "url", rawURL, "error", err)
		return nil, err
	}

	rec, err := s.store.Upsert(ctx, product, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to save product: %w", err)
	}

	s.logger.Info("product tracked",
		"site", site,
		"identifier", rec.Identifier,
		"observations", len(rec.PriceLog),
		"duration", time.Since(start))

	return product, nil
}
