package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"

	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/models"
)

// messageReader is the part of *kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer handles consuming engine events from Kafka
type Consumer struct {
	eventsReader messageReader
	maxRetries   uint64
}

var _ interfaces.MessageConsumer = (*Consumer)(nil)

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, consumerGroup, eventsTopic string) *Consumer {
	eventsReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   eventsTopic,
		GroupID: consumerGroup,

		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 5 * time.Second,
		StartOffset:    kafka.LastOffset,
		MaxWait:        1 * time.Second,

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Msgf("Kafka events reader error: "+msg, args...)
		}),
	})

	return &Consumer{eventsReader: eventsReader, maxRetries: 3}
}

// ConsumeEvents reads events until ctx is done. Every fetched message is
// committed once handled, after retries when the handler fails.
func (c *Consumer) ConsumeEvents(ctx context.Context, handler interfaces.EventHandler) error {
	log.Info().Msg("Starting to consume engine events")

	for {
		message, err := c.eventsReader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.Info().Msg("Stopping event consumption")
				return nil
			}
			log.Error().Err(err).Msg("Failed to fetch event message")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		var event models.EngineEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			log.Error().Err(err).
				Str("topic", message.Topic).
				Int("partition", message.Partition).
				Int64("offset", message.Offset).
				Msg("Failed to unmarshal event")

			if commitErr := c.eventsReader.CommitMessages(ctx, message); commitErr != nil {
				log.Error().Err(commitErr).Msg("Failed to commit invalid message")
			}
			continue
		}

		if err := c.processEventWithRetry(ctx, handler, &event); err != nil {
			log.Error().Err(err).
				Str("event_type", event.EventType).
				Str("event_id", event.EventID).
				Msg("Failed to handle event after retries")
			// Stale entries still expire with the cache TTL.
		}

		if err := c.eventsReader.CommitMessages(ctx, message); err != nil {
			log.Error().Err(err).Str("event_id", event.EventID).Msg("Failed to commit event message")
		} else {
			log.Debug().
				Str("event_type", event.EventType).
				Str("event_id", event.EventID).
				Msg("Processed and committed event")
		}
	}
}

func (c *Consumer) processEventWithRetry(ctx context.Context, handler interfaces.EventHandler, event *models.EngineEvent) error {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(100*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := handler.HandleEvent(ctx, event)
		if err == nil || models.IsValidationError(err) {
			return err
		}
		log.Warn().Err(err).Str("event_id", event.EventID).Msg("Event processing failed, retrying after backoff")
		return retry.RetryableError(err)
	})
}

// Close closes the Kafka reader
func (c *Consumer) Close() error {
	if err := c.eventsReader.Close(); err != nil {
		return fmt.Errorf("failed to close events reader: %w", err)
	}
	return nil
}

// CacheInvalidationHandler drops cached availability for every position an event touches
type CacheInvalidationHandler struct {
	cache interfaces.CacheRepository
}

var _ interfaces.EventHandler = (*CacheInvalidationHandler)(nil)

// NewCacheInvalidationHandler creates a new handler
func NewCacheInvalidationHandler(cache interfaces.CacheRepository) *CacheInvalidationHandler {
	return &CacheInvalidationHandler{cache: cache}
}

// HandleEvent ignores events without a position
func (h *CacheInvalidationHandler) HandleEvent(ctx context.Context, event *models.EngineEvent) error {
	if event.TenantID == "" {
		return models.NewValidationError("tenant_id", "event has no tenant", event.EventID)
	}
	key, ok := event.PositionKey()
	if !ok {
		return nil
	}
	if err := h.cache.InvalidateAvailability(ctx, key, event.Version); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", key, err)
	}
	log.Debug().Str("event_type", event.EventType).Str("key", key.String()).Int64("version", event.Version).Msg("Availability invalidated from event")
	return nil
}
