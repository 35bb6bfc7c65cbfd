package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maltedev/price-tracker/internal/models"
)

// ProductStore keeps tracked products in a single JSON file. Every write
// rewrites the whole file through a temp file and rename.
type ProductStore struct {
	mu       sync.RWMutex
	products map[string]*models.ProductRecord
	filename string
}

func NewProductStore(filename string) (*ProductStore, error) {
	if filename == "" {
		return nil, fmt.Errorf("storage file name is required")
	}

	ps := &ProductStore{
		products: make(map[string]*models.ProductRecord),
		filename: filename,
	}

	if err := ps.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return ps, nil
}

// Upsert records one observation of p under its identifier.
func (ps *ProductStore) Upsert(ctx context.Context, p *models.ExtractedProduct, observedAt time.Time) (*models.ProductRecord, error) {
	if p.Identifier == "" {
		return nil, fmt.Errorf("identifier is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	previous, exists := ps.products[p.Identifier]

	var next *models.ProductRecord
	if exists {
		next = previous.Clone()
		next.Observe(p, observedAt)
	} else {
		next = models.NewProductRecord(p, observedAt)
	}

	ps.products[p.Identifier] = next
	if err := ps.save(); err != nil {
		if exists {
			ps.products[p.Identifier] = previous
		} else {
			delete(ps.products, p.Identifier)
		}
		return nil, fmt.Errorf("failed to persist product: %w", err)
	}

	return next.Clone(), nil
}

func (ps *ProductStore) FindByIdentifier(ctx context.Context, id string) (*models.ProductRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ps.mu.RLock()
	defer ps.mu.RUnlock()

	rec, exists := ps.products[id]
	if !exists {
		return nil, models.ErrProductNotFound
	}
	return rec.Clone(), nil
}

// Count returns the number of tracked products.
func (ps *ProductStore) Count() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.products)
}

func (ps *ProductStore) save() error {
	data, err := json.MarshalIndent(ps.products, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(ps.filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmpFile := ps.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, ps.filename)
}

func (ps *ProductStore) load() error {
	data, err := os.ReadFile(ps.filename)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}

	products := make(map[string]*models.ProductRecord)
	if err := json.Unmarshal(data, &products); err != nil {
		return fmt.Errorf("failed to decode %s: %w", ps.filename, err)
	}

	ps.products = products
	return nil
}
