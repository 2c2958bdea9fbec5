package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/metrics"
	"inventory-engine/internal/models"
)

// messageWriter is the part of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher handles publishing engine events to Kafka
type Publisher struct {
	eventsWriter messageWriter
}

var _ interfaces.MessagePublisher = (*Publisher)(nil)

// OutboxConfig controls the outbox publisher loop
type OutboxConfig struct {
	LockKey      int64
	BatchSize    int
	PollInterval time.Duration
}

// NewPublisher creates a new Kafka publisher
func NewPublisher(brokers []string, eventsTopic string) *Publisher {
	// Hash balancer keeps every event of one position on the same partition.
	eventsWriter := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  eventsTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,

		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    1,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
	}
	return &Publisher{eventsWriter: eventsWriter}
}

// PublishEvent publishes an engine event directly, bypassing the outbox
func (p *Publisher) PublishEvent(ctx context.Context, event *models.EngineEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Key:     []byte(event.PartitionKey()),
		Value:   data,
		Headers: eventHeaders(event.EventType, event.EventID),
	}

	if err := p.eventsWriter.WriteMessages(ctx, message); err != nil {
		log.Error().Err(err).
			Str("event_type", event.EventType).
			Str("event_id", event.EventID).
			Msg("Failed to publish event")
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Info().
		Str("event_type", event.EventType).
		Str("tenant_id", event.TenantID).
		Str("event_id", event.EventID).
		Msg("Published event")
	return nil
}

// PublishOutboxEvent publishes an outbox row as stored, keyed by its partition key
func (p *Publisher) PublishOutboxEvent(ctx context.Context, outboxEvent *models.OutboxEvent) error {
	message := kafka.Message{
		Key:     []byte(outboxEvent.Key),
		Value:   []byte(outboxEvent.Payload),
		Headers: eventHeaders(outboxEvent.EventType, fmt.Sprintf("outbox-%d", outboxEvent.ID)),
		Time:    time.Now(),
	}
	if err := p.eventsWriter.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	return nil
}

// Close closes the Kafka writer
func (p *Publisher) Close() error {
	if err := p.eventsWriter.Close(); err != nil {
		return fmt.Errorf("failed to close events writer: %w", err)
	}
	return nil
}

// RunRelay drains the outbox every PollInterval until ctx is done. Relays in
// other processes may run concurrently; only the relay lock holder publishes.
func (p *Publisher) RunRelay(ctx context.Context, outbox interfaces.OutboxStore, cfg OutboxConfig) {
	log.Info().
		Int64("lock_key", cfg.LockKey).
		Int("batch_size", cfg.BatchSize).
		Dur("poll_interval", cfg.PollInterval).
		Msg("Outbox relay started")

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Outbox relay stopped")
			return
		case <-ticker.C:
		}
		if _, err := p.RelayBatch(ctx, outbox, cfg.LockKey, cfg.BatchSize); err != nil {
			log.Error().Err(err).Msg("Outbox relay pass failed")
		}
	}
}

// RelayBatch publishes pending rows in id order and reports how many went out.
// It stops at the first broker failure so later events of a key cannot overtake it.
func (p *Publisher) RelayBatch(ctx context.Context, outbox interfaces.OutboxStore, lockKey int64, batchSize int) (int, error) {
	locked, err := outbox.TryLockRelay(ctx, lockKey)
	if err != nil {
		return 0, fmt.Errorf("failed to take relay lock: %w", err)
	}
	if !locked {
		return 0, nil
	}
	defer func() {
		if err := outbox.UnlockRelay(ctx, lockKey); err != nil {
			log.Error().Err(err).Msg("Failed to drop relay lock")
		}
	}()

	pending, err := outbox.PendingEvents(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending events: %w", err)
	}

	published := make([]int64, 0, len(pending))
	for i := range pending {
		row := &pending[i]
		if err := p.PublishOutboxEvent(ctx, row); err != nil {
			metrics.OutboxPublished.WithLabelValues(metrics.ResultError).Inc()
			log.Warn().Err(err).
				Int64("outbox_id", row.ID).
				Str("event_type", row.EventType).
				Str("key", row.Key).
				Int("attempts", row.PublishAttempts+1).
				Msg("Outbox event not published, will retry next pass")
			if recErr := outbox.RecordPublishFailure(ctx, row.ID, err.Error()); recErr != nil {
				log.Error().Err(recErr).Int64("outbox_id", row.ID).Msg("Failed to record publish failure")
			}
			break
		}
		metrics.OutboxPublished.WithLabelValues(metrics.ResultOK).Inc()
		published = append(published, row.ID)
	}

	if len(published) == 0 {
		return 0, nil
	}
	if err := outbox.MarkPublished(ctx, published); err != nil {
		return 0, fmt.Errorf("failed to mark %d events published: %w", len(published), err)
	}
	log.Debug().Int("published", len(published)).Int("pending", len(pending)).Msg("Outbox relay pass done")
	return len(published), nil
}

func eventHeaders(eventType, eventID string) []kafka.Header {
	return []kafka.Header{
		{Key: "event-type", Value: []byte(eventType)},
		{Key: "event-id", Value: []byte(eventID)},
	}
}
