package history

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/maltedev/price-tracker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader map[string]*models.ProductRecord

func (f fakeReader) FindByIdentifier(_ context.Context, id string) (*models.ProductRecord, error) {
	rec, ok := f[id]
	if !ok {
		return nil, models.ErrProductNotFound
	}
	return rec, nil
}

func price(v float64) *float64 { return &v }

var now = time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)

func newTestService(r Reader) *Service {
	s := NewService(r, slog.Default())
	s.now = func() time.Time { return now }
	return s
}

func daysAgo(d float64) time.Time {
	return now.Add(-time.Duration(d * float64(24*time.Hour)))
}

func TestParseRange(t *testing.T) {
	assert.Equal(t, RangeWeek, ParseRange("7d"))
	assert.Equal(t, RangeMonth, ParseRange("30d"))
	for _, s := range []string{"", "all", "90d", "7", "7D"} {
		assert.Equal(t, RangeAll, ParseRange(s), s)
	}
}

func TestService_GetHistory(t *testing.T) {
	img := "https://rukminim2.flixcart.com/image/phone.jpeg"
	reader := fakeReader{
		"B07XJ8C8F5": {
			Identifier: "B07XJ8C8F5",
			Title:      "Echo Dot",
			ImageURL:   &img,
			PriceLog: []models.PricePoint{
				{Price: price(100), ObservedAt: daysAgo(40)},
				{Price: price(95), ObservedAt: daysAgo(20)},
				{Price: nil, ObservedAt: daysAgo(7)},
				{Price: price(90), ObservedAt: daysAgo(3)},
				{Price: price(85), ObservedAt: daysAgo(0.5)},
			},
		},
		"EMPTYLOG01": {Identifier: "EMPTYLOG01", Title: "Never priced"},
	}
	svc := newTestService(reader)
	ctx := context.Background()

	tests := []struct {
		name     string
		rng      Range
		expected []*float64
	}{
		{name: "full log", rng: RangeAll, expected: []*float64{price(100), price(95), nil, price(90), price(85)}},
		{name: "last 30 days", rng: RangeMonth, expected: []*float64{price(95), nil, price(90), price(85)}},
		{name: "last 7 days includes boundary", rng: RangeWeek, expected: []*float64{nil, price(90), price(85)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := svc.GetHistory(ctx, "B07XJ8C8F5", tt.rng)
			require.NoError(t, err)

			assert.Equal(t, "Echo Dot", h.Title)
			assert.Equal(t, &img, h.ImageURL)
			require.Len(t, h.Points, len(tt.expected))
			for i, point := range h.Points {
				assert.Equal(t, tt.expected[i], point.Price)
			}
			for i := 1; i < len(h.Points); i++ {
				assert.True(t, h.Points[i-1].ObservedAt.Before(h.Points[i].ObservedAt))
			}
		})
	}

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := svc.GetHistory(ctx, "B000000000", RangeAll)
		assert.ErrorIs(t, err, models.ErrProductNotFound)
	})

	t.Run("empty log is found", func(t *testing.T) {
		h, err := svc.GetHistory(ctx, "EMPTYLOG01", RangeWeek)
		require.NoError(t, err)
		assert.NotNil(t, h.Points)
		assert.Empty(t, h.Points)
	})
}

func TestFilter_DoesNotAliasInput(t *testing.T) {
	log := []models.PricePoint{{Price: price(1), ObservedAt: now}}

	out := Filter(log, RangeAll, now)
	out[0].ObservedAt = time.Time{}

	assert.Equal(t, now, log[0].ObservedAt)
}
