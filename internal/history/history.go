package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/price-tracker/internal/models"
)

// Range is a trailing window in days. Zero means the full log.
type Range int

const (
	RangeAll   Range = 0
	RangeWeek  Range = 7
	RangeMonth Range = 30
)

const dayDuration = 24 * time.Hour

// ParseRange maps "7d" and "30d" to their windows. Anything else is the full log.
func ParseRange(s string) Range {
	switch s {
	case "7d":
		return RangeWeek
	case "30d":
		return RangeMonth
	default:
		return RangeAll
	}
}

// Reader loads a stored product by identifier.
type Reader interface {
	FindByIdentifier(ctx context.Context, id string) (*models.ProductRecord, error)
}

// History is a product's price log, optionally trimmed to a window.
type History struct {
	Identifier string
	Title      string
	ImageURL   *string
	Points     []models.PricePoint
}

type Service struct {
	reader Reader
	now    func() time.Time
	logger *slog.Logger
}

func NewService(reader Reader, logger *slog.Logger) *Service {
	return &Service{
		reader: reader,
		now:    time.Now,
		logger: logger.With("component", "history"),
	}
}

// GetHistory returns the price log for id filtered to rng, oldest first.
func (s *Service) GetHistory(ctx context.Context, id string, rng Range) (*History, error) {
	rec, err := s.reader.FindByIdentifier(ctx, id)
	if err != nil {
		return nil, err
	}

	points := Filter(rec.PriceLog, rng, s.now())

	s.logger.Debug("history loaded", "identifier", id, "range", int(rng), "points", len(points), "total", len(rec.PriceLog))

	return &History{
		Identifier: rec.Identifier,
		Title:      rec.Title,
		ImageURL:   rec.ImageURL,
		Points:     points,
	}, nil
}

// Filter keeps entries observed at or after now minus rng days, preserving order.
// The result is never nil.
func Filter(log []models.PricePoint, rng Range, now time.Time) []models.PricePoint {
	out := make([]models.PricePoint, 0, len(log))
	if rng == RangeAll {
		return append(out, log...)
	}

	cutoff := now.Add(-time.Duration(rng) * dayDuration)
	for _, point := range log {
		if !point.ObservedAt.Before(cutoff) {
			out = append(out, point)
		}
	}
	return out
}
