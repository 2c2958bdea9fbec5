package interfaces

import (
	"context"

	"inventory-engine/internal/models"
)

// MessagePublisher defines the contract for publishing events
type MessagePublisher interface {
	PublishEvent(ctx context.Context, event *models.EngineEvent) error
	PublishOutboxEvent(ctx context.Context, event *models.OutboxEvent) error
	Close() error
}

// MessageConsumer defines the contract for consuming events
type MessageConsumer interface {
	ConsumeEvents(ctx context.Context, handler EventHandler) error
	Close() error
}

// EventHandler handles one decoded engine event
type EventHandler interface {
	HandleEvent(ctx context.Context, event *models.EngineEvent) error
}

// OutboxStore is the outbox side used by the publisher loop
type OutboxStore interface {
	TryLockRelay(ctx context.Context, lockKey int64) (bool, error)
	UnlockRelay(ctx context.Context, lockKey int64) error
	PendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, ids []int64) error
	RecordPublishFailure(ctx context.Context, id int64, lastError string) error
}
