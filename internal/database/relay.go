package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var errMalformedPayload = errors.New("event payload is not valid JSON")

type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) (string, error)
}

// Relay copies queued price events into their Redis streams.
type Relay struct {
	redis     RedisClient
	outbox    OutboxRepo
	logger    *slog.Logger
	source    string
	interval  time.Duration
	batchSize int
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Source       string
}

// streamMessage is the JSON document stored under the "data" field.
type streamMessage struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     string          `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      streamMetadata  `json:"metadata"`
}

type streamMetadata struct {
	Source       string `json:"source"`
	OutboxID     string `json:"outbox_id"`
	RetryCount   int    `json:"retry_count"`
	TargetStream string `json:"target_stream"`
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Source == "" {
		config.Source = "price-tracker"
	}

	return &Relay{
		redis:     redisClient,
		outbox:    outbox,
		logger:    logger.With("component", "relay"),
		source:    config.Source,
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
	}
}

// Start drains the queue once, then again every poll interval, until ctx is
// cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("price event relay started", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.drain(ctx); err != nil {
			r.logger.Error("failed to drain price events", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("price event relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain delivers one batch. A failed delivery is recorded on its event and
// does not stop the rest of the batch.
func (r *Relay) drain(ctx context.Context) error {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	r.logger.Debug("delivering price events", "count", len(events))

	for _, event := range events {
		r.deliver(ctx, event)
	}
	return nil
}

func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) {
	log := r.logger.With("event_id", event.ID, "identifier", event.AggregateID)

	if err := r.publish(ctx, event); err != nil {
		status, markErr := r.outbox.MarkFailed(ctx, event.ID, err)
		switch {
		case markErr != nil:
			log.Error("failed to record delivery failure", "error", err, "mark_error", markErr)
		case status == OutboxStatusDeadLetter:
			log.Warn("price event moved to dead letter", "attempts", event.RetryCount+1, "error", err)
		default:
			log.Error("price event delivery failed", "attempt", event.RetryCount+1, "error", err)
		}
		return
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		// already in the stream, a later batch will publish it again
		log.Error("failed to mark price event delivered", "error", err)
		return
	}

	log.Debug("price event delivered", "stream", event.TargetStream)
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	if !json.Valid(event.Payload) {
		return errMalformedPayload
	}

	data, err := json.Marshal(streamMessage{
		ID:            event.ID.String(),
		Type:          event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Timestamp:     event.CreatedAt.Format(time.RFC3339),
		Payload:       event.Payload,
		Metadata: streamMetadata{
			Source:       r.source,
			OutboxID:     event.ID.String(),
			RetryCount:   event.RetryCount,
			TargetStream: event.TargetStream,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal stream message: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: map[string]any{
			"data":           string(data),
			"timestamp":      strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
			"original_id":    event.ID.String(),
			"aggregate_id":   event.AggregateID,
			"aggregate_type": event.AggregateType,
			"event_type":     event.EventType,
		},
	}

	if err := r.redis.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	return nil
}
