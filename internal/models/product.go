package models

import (
	"errors"
	"time"
)

// ErrProductNotFound is returned by repositories for unknown identifiers.
var ErrProductNotFound = errors.New("product not found")

type Site string

const (
	SiteAmazon   Site = "amazon"
	SiteFlipkart Site = "flipkart"
)

// ExtractedProduct is what a site extractor produces from one product page.
type ExtractedProduct struct {
	Identifier string   `json:"asin"`
	Site       Site     `json:"site"`
	Title      string   `json:"title"`
	Price      *float64 `json:"price"`
	ImageURL   *string  `json:"image"`
	Features   []string `json:"features"`
}

// PricePoint is one dated observation in a product's price log. A nil price is
// still a valid observation.
type PricePoint struct {
	Price      *float64  `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// ProductRecord is the persisted state of one tracked product.
type ProductRecord struct {
	Identifier    string       `json:"identifier"`
	Site          Site         `json:"site"`
	Title         string       `json:"title"`
	ImageURL      *string      `json:"image_url,omitempty"`
	CurrentPrice  *float64     `json:"current_price"`
	PreviousPrice *float64     `json:"previous_price"`
	LastCheckedAt time.Time    `json:"last_checked_at"`
	PriceLog      []PricePoint `json:"price_log"`
	CreatedAt     time.Time    `json:"created_at"`
}

// NewProductRecord creates the first-observation state for p.
func NewProductRecord(p *ExtractedProduct, observedAt time.Time) *ProductRecord {
	return &ProductRecord{
		Identifier:    p.Identifier,
		Site:          p.Site,
		Title:         p.Title,
		ImageURL:      p.ImageURL,
		CurrentPrice:  p.Price,
		PreviousPrice: nil,
		LastCheckedAt: observedAt,
		PriceLog:      []PricePoint{{Price: p.Price, ObservedAt: observedAt}},
		CreatedAt:     observedAt,
	}
}

// Observe merges a new observation into the record: the current price shifts
// into PreviousPrice and one entry is appended to the log.
func (r *ProductRecord) Observe(p *ExtractedProduct, observedAt time.Time) {
	r.PreviousPrice = r.CurrentPrice
	r.CurrentPrice = p.Price
	r.Title = p.Title
	r.ImageURL = p.ImageURL
	r.Site = p.Site
	r.LastCheckedAt = observedAt
	r.PriceLog = append(r.PriceLog, PricePoint{Price: p.Price, ObservedAt: observedAt})
}

// Clone returns a deep copy so callers cannot alias repository state.
func (r *ProductRecord) Clone() *ProductRecord {
	c := *r
	c.ImageURL = cloneString(r.ImageURL)
	c.CurrentPrice = cloneFloat(r.CurrentPrice)
	c.PreviousPrice = cloneFloat(r.PreviousPrice)
	c.PriceLog = make([]PricePoint, len(r.PriceLog))
	for i, pp := range r.PriceLog {
		c.PriceLog[i] = PricePoint{Price: cloneFloat(pp.Price), ObservedAt: pp.ObservedAt}
	}
	return &c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
