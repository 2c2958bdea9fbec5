package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/metrics"
	"inventory-engine/internal/models"
)

// Ledger is the stock ledger. AdjustTx is the only code path that changes
// quantity on hand; Adjust wraps it in its own transaction.
type Ledger struct {
	store  interfaces.Store
	config ServiceConfig
	invalidator
}

var _ interfaces.StockLedger = (*Ledger)(nil)

// NewLedger creates a new stock ledger
func NewLedger(store interfaces.Store, cache interfaces.CacheRepository, config ServiceConfig) (*Ledger, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}
	return &Ledger{
		store:       store,
		config:      config,
		invalidator: invalidator{cache: cache, timeout: config.CacheTimeout},
	}, nil
}

// GetOnHand returns the quantity on hand, 0 for a position never created
func (l *Ledger) GetOnHand(ctx context.Context, key models.PositionKey) (int64, error) {
	if err := requireKey(key); err != nil {
		return 0, err
	}
	position, err := l.store.GetPosition(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to get stock position: %w", err)
	}
	if position == nil {
		return 0, nil
	}
	return position.QuantityOnHand, nil
}

// Adjust applies delta to one position in its own transaction and returns the new quantity
func (l *Ledger) Adjust(ctx context.Context, key models.PositionKey, delta int64, reason models.MovementReason, opts interfaces.AdjustOptions) (int64, error) {
	if err := requireKey(key); err != nil {
		return 0, err
	}
	if opts.Actor == "" {
		return 0, models.NewValidationError("actor", "actor is required", nil)
	}

	var saved *models.StockPosition
	err := withContentionRetry(ctx, l.config, "adjust", func(ctx context.Context) error {
		return l.store.InTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
			var err error
			saved, err = l.AdjustTx(ctx, tx, key, delta, reason, opts)
			return err
		})
	})
	if err != nil {
		return 0, err
	}

	l.invalidate(ctx, saved)
	return saved.QuantityOnHand, nil
}

// AdjustTx locks the position, applies delta and journals the movement inside tx.
// The result may never go below zero. It returns the saved position.
func (l *Ledger) AdjustTx(ctx context.Context, tx interfaces.Tx, key models.PositionKey, delta int64, reason models.MovementReason, opts interfaces.AdjustOptions) (saved *models.StockPosition, err error) {
	defer func() {
		metrics.LedgerAdjustments.WithLabelValues(string(reason), metrics.ResultOf(err)).Inc()
	}()

	if !reason.Valid() {
		return nil, models.NewValidationError("reason", "unknown movement reason", reason)
	}
	if delta == 0 {
		return nil, models.NewInvalidQuantity("delta", delta, "must not be zero")
	}

	position, err := tx.LockPosition(ctx, key)
	if err != nil {
		return nil, err
	}

	before := position.QuantityOnHand
	after := before + delta
	if after < 0 {
		return nil, &models.NegativeStockError{Key: key, OnHand: before, Delta: delta}
	}

	position.QuantityOnHand = after
	if err := tx.SavePosition(ctx, position); err != nil {
		return nil, err
	}

	movement := &models.Movement{
		TenantID:       key.TenantID,
		ProductID:      key.ProductID,
		WarehouseID:    key.WarehouseID,
		Delta:          delta,
		QuantityBefore: before,
		QuantityAfter:  after,
		Reason:         reason,
		ReferenceType:  optional(opts.ReferenceType),
		ReferenceID:    optional(opts.ReferenceID),
		Actor:          opts.Actor,
		Note:           opts.Note,
	}
	if err := tx.InsertMovement(ctx, movement); err != nil {
		return nil, err
	}

	event := &models.EngineEvent{
		EventID:     uuid.NewString(),
		EventType:   models.EventTypeStockAdjusted,
		TenantID:    key.TenantID,
		ProductID:   key.ProductID,
		WarehouseID: key.WarehouseID,
		Quantity:    delta,
		OnHand:      &after,
		Version:     position.Version,
		Reason:      reason,
		Actor:       opts.Actor,
		Timestamp:   time.Now().UTC(),
	}
	if err := tx.CreateOutboxEvent(ctx, event.EventType, event.PartitionKey(), event); err != nil {
		return nil, err
	}

	log.Info().
		Str("key", key.String()).
		Int64("delta", delta).
		Int64("before", before).
		Int64("after", after).
		Str("reason", string(reason)).
		Str("actor", opts.Actor).
		Msg("Stock adjusted")

	return position, nil
}

// ListMovements returns the newest movements of a position first
func (l *Ledger) ListMovements(ctx context.Context, key models.PositionKey, limit int) ([]models.Movement, error) {
	if err := requireKey(key); err != nil {
		return nil, err
	}
	return l.store.ListMovements(ctx, key, limit)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
