package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/history"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/scraper"
)

// Tracker scrapes and records one product.
type Tracker interface {
	Scrape(ctx context.Context, site models.Site, rawURL string) (*models.ExtractedProduct, error)
}

// HistoryService reads a product's price log.
type HistoryService interface {
	GetHistory(ctx context.Context, id string, rng history.Range) (*history.History, error)
}

// OutboxStats reports relay backlog. It is nil when the file store is in use.
type OutboxStats interface {
	Stats(ctx context.Context) (database.OutboxStats, error)
}

// Pinger checks that the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	pendingWarnThreshold     = 1000
	deadLetterErrorThreshold = 100
)

type Handlers struct {
	tracker Tracker
	history HistoryService
	outbox  OutboxStats
	db      Pinger
	logger  *slog.Logger
}

func NewHandlers(tracker Tracker, history HistoryService, outbox OutboxStats, logger *slog.Logger) *Handlers {
	return &Handlers{
		tracker: tracker,
		history: history,
		outbox:  outbox,
		logger:  logger.With("component", "api"),
	}
}

// WithDatabase makes /health fail while db does not answer a ping.
func (h *Handlers) WithDatabase(db Pinger) *Handlers {
	h.db = db
	return h
}

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type PricePointResponse struct {
	Price *float64  `json:"price"`
	Date  time.Time `json:"date"`
}

type HistoryResponse struct {
	ASIN         string               `json:"asin"`
	Title        string               `json:"title"`
	Image        *string              `json:"image"`
	PriceHistory []PricePointResponse `json:"priceHistory"`
}

// ScrapeAmazon handles GET /api/scrape?url=
func (h *Handlers) ScrapeAmazon(w http.ResponseWriter, r *http.Request) {
	product, err := h.tracker.Scrape(r.Context(), models.SiteAmazon, r.URL.Query().Get("url"))
	if err != nil {
		switch {
		case errors.Is(err, scraper.ErrInvalidURL):
			h.respondError(w, http.StatusBadRequest, "Invalid URL")
		case errors.Is(err, scraper.ErrInvalidIdentifier):
			h.respondError(w, http.StatusBadRequest, "Invalid ASIN")
		default:
			h.logger.Error("amazon scrape failed", "error", err)
			h.respondError(w, http.StatusInternalServerError, "Amazon scraping failed: "+err.Error())
		}
		return
	}

	h.respondJSON(w, http.StatusOK, Response{Success: true, Data: product})
}

// ScrapeFlipkart handles GET /api/scrape/flipkart?url=
func (h *Handlers) ScrapeFlipkart(w http.ResponseWriter, r *http.Request) {
	product, err := h.tracker.Scrape(r.Context(), models.SiteFlipkart, r.URL.Query().Get("url"))
	if err != nil {
		switch {
		case errors.Is(err, scraper.ErrInvalidURL):
			h.respondError(w, http.StatusBadRequest, "Invalid Flipkart URL")
		case errors.Is(err, scraper.ErrInvalidIdentifier):
			h.respondError(w, http.StatusBadRequest, "Invalid product ID")
		case errors.Is(err, scraper.ErrBlocked):
			h.respondError(w, http.StatusInternalServerError, "Blocked by Flipkart. Try again later.")
		default:
			h.logger.Error("flipkart scrape failed", "error", err)
			h.respondError(w, http.StatusInternalServerError, "Flipkart scraping failed: "+err.Error())
		}
		return
	}

	h.respondJSON(w, http.StatusOK, Response{Success: true, Data: product})
}

// GetHistory handles GET /api/history?asin=&range=
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("asin")
	if id == "" {
		h.respondError(w, http.StatusBadRequest, "ASIN is required")
		return
	}

	hist, err := h.history.GetHistory(r.Context(), id, history.ParseRange(r.URL.Query().Get("range")))
	if err != nil {
		if errors.Is(err, models.ErrProductNotFound) {
			h.respondError(w, http.StatusNotFound, "Product not found")
			return
		}
		h.logger.Error("failed to load history", "asin", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "Failed to fetch price history: "+err.Error())
		return
	}

	points := make([]PricePointResponse, len(hist.Points))
	for i, p := range hist.Points {
		points[i] = PricePointResponse{Price: p.Price, Date: p.ObservedAt}
	}

	h.respondJSON(w, http.StatusOK, Response{Success: true, Data: HistoryResponse{
		ASIN:         hist.Identifier,
		Title:        hist.Title,
		Image:        hist.ImageURL,
		PriceHistory: points,
	}})
}

// Health reports liveness and, with Postgres, the relay backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Error("database ping failed", "error", err)
			h.respondUnavailable(w)
			return
		}
	}

	if h.outbox != nil {
		stats, err := h.outbox.Stats(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox stats", "error", err)
			h.respondUnavailable(w)
			return
		}

		health["outbox"] = stats
		if stats.Pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if stats.DeadLetter > deadLetterErrorThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, Response{Success: status == http.StatusOK, Data: health})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondUnavailable(w http.ResponseWriter) {
	health := map[string]any{"status": "error", "message": "database unavailable"}
	h.respondJSON(w, http.StatusServiceUnavailable, Response{Success: false, Data: health, Error: "database unavailable"})
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, Response{Success: false, Error: message})
}
