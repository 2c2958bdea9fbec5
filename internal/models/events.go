package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types written to the outbox and published to Kafka
const (
	EventTypeStockAdjusted        = "stock.adjusted"
	EventTypeReservationCreated   = "reservation.created"
	EventTypeReservationDelivered = "reservation.delivered"
	EventTypeReservationReturned  = "reservation.returned"
	EventTypeReservationCancelled = "reservation.cancelled"
	EventTypeCountScheduled       = "count.scheduled"
	EventTypeCountStarted         = "count.started"
	EventTypeCountCompleted       = "count.completed"
	EventTypeCountCancelled       = "count.cancelled"
)

// EngineEvent is the payload of every outbox row. Position-scoped events carry
// the product and warehouse so consumers can invalidate cached availability.
type EngineEvent struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	TenantID      string            `json:"tenant_id"`
	ProductID     string            `json:"product_id,omitempty"`
	WarehouseID   string            `json:"warehouse_id,omitempty"`
	ReservationID *uuid.UUID        `json:"reservation_id,omitempty"`
	SessionID     *uuid.UUID        `json:"session_id,omitempty"`
	Quantity      int64             `json:"quantity,omitempty"`
	OnHand        *int64            `json:"on_hand,omitempty"`
	Version       int64             `json:"position_version,omitempty"`
	State         string            `json:"state,omitempty"`
	Reason        MovementReason    `json:"reason,omitempty"`
	Actor         string            `json:"actor,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// PositionKey returns the position an event refers to, if any.
func (e *EngineEvent) PositionKey() (PositionKey, bool) {
	if e.ProductID == "" || e.WarehouseID == "" {
		return PositionKey{}, false
	}
	return PositionKey{TenantID: e.TenantID, ProductID: e.ProductID, WarehouseID: e.WarehouseID}, true
}

// PartitionKey keeps events of one position (or one tenant) on the same partition.
func (e *EngineEvent) PartitionKey() string {
	if key, ok := e.PositionKey(); ok {
		return key.String()
	}
	return e.TenantID
}

// OutboxEvent represents the outbox pattern table for reliable event publishing
type OutboxEvent struct {
	ID              int64      `db:"id" json:"id"`
	EventType       string     `db:"event_type" json:"event_type"`
	Key             string     `db:"key" json:"key"`
	Payload         string     `db:"payload" json:"payload"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	Published       bool       `db:"published" json:"published"`
	PublishedAt     *time.Time `db:"published_at" json:"published_at,omitempty"`
	PublishAttempts int        `db:"publish_attempts" json:"publish_attempts"`
	LastError       *string    `db:"last_error" json:"last_error,omitempty"`
}
