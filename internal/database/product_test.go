package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/price-tracker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(v float64) *float64 { return &v }

func observed(id string, p *float64) *models.ExtractedProduct {
	return &models.ExtractedProduct{
		Identifier: id,
		Site:       models.SiteAmazon,
		Title:      "Apple iPhone 15",
		Price:      p,
		Features:   []string{"48MP MAIN CAMERA"},
	}
}

func TestNewPriceObservedEvent(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := models.NewProductRecord(observed("B0CHX1W1XY", price(100)), at)
	rec.Observe(observed("B0CHX1W1XY", price(120)), at.Add(time.Hour))

	event, err := newPriceObservedEvent(rec, at.Add(time.Hour), "stream:test")
	require.NoError(t, err)

	assert.Equal(t, AggregateProduct, event.AggregateType)
	assert.Equal(t, "B0CHX1W1XY", event.AggregateID)
	assert.Equal(t, EventPriceObserved, event.EventType)
	assert.Equal(t, "stream:test", event.TargetStream)

	var payload PriceObservedPayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, 120.0, *payload.CurrentPrice)
	assert.Equal(t, 100.0, *payload.PreviousPrice)
	assert.Equal(t, 2, payload.PriceCount)
	assert.True(t, payload.ObservedAt.Equal(at.Add(time.Hour)))
}

func TestProductRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	outbox := NewOutboxRepository(db)
	repo := NewProductRepository(db, outbox, "")
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("first observation creates the record", func(t *testing.T) {
		rec, err := repo.Upsert(ctx, observed("B0CHX1W1XY", price(100)), t0)
		require.NoError(t, err)

		assert.Nil(t, rec.PreviousPrice)
		assert.Equal(t, 100.0, *rec.CurrentPrice)
		require.Len(t, rec.PriceLog, 1)
		assert.True(t, rec.PriceLog[0].ObservedAt.Equal(t0))
	})

	t.Run("second observation shifts the price", func(t *testing.T) {
		product := observed("B0CHX1W1XY", price(120))
		product.Title = "Apple iPhone 15 (Black)"

		rec, err := repo.Upsert(ctx, product, t0.Add(time.Hour))
		require.NoError(t, err)

		assert.Equal(t, 120.0, *rec.CurrentPrice)
		assert.Equal(t, 100.0, *rec.PreviousPrice)
		assert.Equal(t, "Apple iPhone 15 (Black)", rec.Title)
		require.Len(t, rec.PriceLog, 2)
		assert.Equal(t, 100.0, *rec.PriceLog[0].Price)
		assert.Equal(t, 120.0, *rec.PriceLog[1].Price)
	})

	t.Run("null price is still logged", func(t *testing.T) {
		rec, err := repo.Upsert(ctx, observed("B0CHX1W1XY", nil), t0.Add(2*time.Hour))
		require.NoError(t, err)

		assert.Nil(t, rec.CurrentPrice)
		assert.Equal(t, 120.0, *rec.PreviousPrice)
		require.Len(t, rec.PriceLog, 3)
		assert.Nil(t, rec.PriceLog[2].Price)
	})

	t.Run("each observation enqueues one event", func(t *testing.T) {
		stats, err := outbox.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.Pending)
	})
}

func TestProductRepository_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewProductRepository(db, NewOutboxRepository(db), "")
	t0 := time.Now()

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Upsert(ctx, observed("B0CONCURR1", price(float64(i))), t0.Add(time.Duration(i)*time.Second))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := repo.FindByIdentifier(ctx, "B0CONCURR1")
	require.NoError(t, err)
	assert.Len(t, rec.PriceLog, n)
}

func TestProductRepository_FindByIdentifier(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewProductRepository(db, NewOutboxRepository(db), "")

	_, err := repo.FindByIdentifier(ctx, "B000000000")
	assert.ErrorIs(t, err, models.ErrProductNotFound)

	for i := 1; i <= 3; i++ {
		_, err := repo.Upsert(ctx, observed("B0SEQUENCE", price(float64(i*10))), time.Now())
		require.NoError(t, err, fmt.Sprintf("write %d", i))
	}

	rec, err := repo.FindByIdentifier(ctx, "B0SEQUENCE")
	require.NoError(t, err)
	assert.Equal(t, models.SiteAmazon, rec.Site)
	assert.Equal(t, 30.0, *rec.CurrentPrice)
	assert.Equal(t, 20.0, *rec.PreviousPrice)
	require.Len(t, rec.PriceLog, 3)
	for i, point := range rec.PriceLog {
		assert.Equal(t, float64((i+1)*10), *point.Price)
	}
}
