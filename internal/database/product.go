package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/price-tracker/internal/models"
)

const (
	AggregateProduct   = "product"
	EventPriceObserved = "PRICE_OBSERVED"
)

const productColumns = `identifier, site, title, image_url, current_price,
	previous_price, last_checked_at, price_log, created_at`

// The conflict branch runs under the row lock of the existing record, so
// concurrent observations of one identifier serialize and each appends once.
const upsertProductQuery = `
	INSERT INTO tracked_products (
		identifier, site, title, image_url, current_price,
		previous_price, last_checked_at, price_log, created_at
	) VALUES (
		$1, $2, $3, $4, $5, NULL, $6, $7::jsonb, $6
	)
	ON CONFLICT (identifier) DO UPDATE SET
		site            = EXCLUDED.site,
		title           = EXCLUDED.title,
		image_url       = EXCLUDED.image_url,
		previous_price  = tracked_products.current_price,
		current_price   = EXCLUDED.current_price,
		last_checked_at = EXCLUDED.last_checked_at,
		price_log       = tracked_products.price_log || EXCLUDED.price_log
	RETURNING ` + productColumns

// PriceObservedPayload is the body of a PRICE_OBSERVED outbox event.
type PriceObservedPayload struct {
	Identifier    string      `json:"identifier"`
	Site          models.Site `json:"site"`
	Title         string      `json:"title"`
	CurrentPrice  *float64    `json:"current_price"`
	PreviousPrice *float64    `json:"previous_price"`
	ObservedAt    time.Time   `json:"observed_at"`
	PriceCount    int         `json:"price_count"`
}

// ProductRepository persists tracked products in Postgres.
type ProductRepository struct {
	db     *DB
	outbox *OutboxRepository
	stream string
}

func NewProductRepository(db *DB, outbox *OutboxRepository, stream string) *ProductRepository {
	if stream == "" {
		stream = DefaultPriceStream
	}
	return &ProductRepository{db: db, outbox: outbox, stream: stream}
}

// Upsert records one observation of p. The product row and its
// PRICE_OBSERVED event commit together.
func (r *ProductRepository) Upsert(ctx context.Context, p *models.ExtractedProduct, observedAt time.Time) (*models.ProductRecord, error) {
	entry, err := json.Marshal([]models.PricePoint{{Price: p.Price, ObservedAt: observedAt.UTC()}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal price log entry: %w", err)
	}

	var record *models.ProductRecord
	err = r.db.Transaction(ctx, func(tx pgx.Tx) error {
		rec, err := scanProduct(tx.QueryRow(ctx, upsertProductQuery,
			p.Identifier, string(p.Site), p.Title, p.ImageURL, p.Price,
			observedAt.UTC(), string(entry),
		))
		if err != nil {
			return fmt.Errorf("failed to upsert product: %w", err)
		}

		event, err := newPriceObservedEvent(rec, observedAt, r.stream)
		if err != nil {
			return err
		}
		if err := r.outbox.InsertWithTx(ctx, tx, event); err != nil {
			return err
		}

		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *ProductRepository) FindByIdentifier(ctx context.Context, id string) (*models.ProductRecord, error) {
	query := `SELECT ` + productColumns + ` FROM tracked_products WHERE identifier = $1`

	rec, err := scanProduct(r.db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return rec, nil
}

func scanProduct(row pgx.Row) (*models.ProductRecord, error) {
	var (
		rec      models.ProductRecord
		site     string
		priceLog []byte
	)

	err := row.Scan(
		&rec.Identifier, &site, &rec.Title, &rec.ImageURL, &rec.CurrentPrice,
		&rec.PreviousPrice, &rec.LastCheckedAt, &priceLog, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Site = models.Site(site)
	rec.PriceLog = []models.PricePoint{}
	if len(priceLog) > 0 {
		if err := json.Unmarshal(priceLog, &rec.PriceLog); err != nil {
			return nil, fmt.Errorf("failed to decode price log: %w", err)
		}
	}

	return &rec, nil
}

func newPriceObservedEvent(rec *models.ProductRecord, observedAt time.Time, stream string) (*OutboxEvent, error) {
	payload, err := json.Marshal(PriceObservedPayload{
		Identifier:    rec.Identifier,
		Site:          rec.Site,
		Title:         rec.Title,
		CurrentPrice:  rec.CurrentPrice,
		PreviousPrice: rec.PreviousPrice,
		ObservedAt:    observedAt.UTC(),
		PriceCount:    len(rec.PriceLog),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	return &OutboxEvent{
		AggregateType: AggregateProduct,
		AggregateID:   rec.Identifier,
		EventType:     EventPriceObserved,
		Payload:       payload,
		TargetStream:  stream,
	}, nil
}
