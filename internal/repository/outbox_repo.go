package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/models"
)

// OutboxRepository is the relay side of the outbox. Rows are written by
// insertOutboxEvent inside the business transaction and drained here.
type OutboxRepository struct {
	db *sqlx.DB

	// pg advisory locks belong to a session, so the holder keeps its connection
	mu      sync.Mutex
	holder  *sqlx.Conn
	heldKey int64
}

var _ interfaces.OutboxStore = (*OutboxRepository)(nil)

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// TryLockRelay takes the relay advisory lock without waiting.
// It reports false when another relay process holds it.
func (r *OutboxRepository) TryLockRelay(ctx context.Context, lockKey int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holder != nil {
		return false, nil
	}

	conn, err := r.db.Connx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to reserve relay connection: %w", err)
	}

	var locked bool
	if err := conn.GetContext(ctx, &locked, `SELECT pg_try_advisory_lock($1)`, lockKey); err != nil {
		conn.Close()
		log.Error().Err(err).Int64("lock_key", lockKey).Msg("Failed to take relay lock")
		return false, fmt.Errorf("failed to take relay lock: %w", err)
	}
	if !locked {
		conn.Close()
		return false, nil
	}

	r.holder, r.heldKey = conn, lockKey
	log.Debug().Int64("lock_key", lockKey).Msg("Relay lock taken")
	return true, nil
}

// UnlockRelay drops the relay lock and returns its connection to the pool
func (r *OutboxRepository) UnlockRelay(ctx context.Context, lockKey int64) error {
	r.mu.Lock()
	conn, heldKey := r.holder, r.heldKey
	r.holder = nil
	r.mu.Unlock()
	if conn == nil {
		return nil
	}
	defer conn.Close()

	if lockKey != heldKey {
		log.Warn().Int64("lock_key", lockKey).Int64("held_key", heldKey).Msg("Unlocking relay with a different key")
	}

	var unlocked bool
	if err := conn.GetContext(ctx, &unlocked, `SELECT pg_advisory_unlock($1)`, lockKey); err != nil {
		return fmt.Errorf("failed to drop relay lock: %w", err)
	}
	if !unlocked {
		log.Warn().Int64("lock_key", lockKey).Msg("Relay lock was not held")
	}
	return nil
}

// PendingEvents returns up to limit unpublished rows, oldest first.
// Only the relay lock holder calls it, so no row locks are taken.
func (r *OutboxRepository) PendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT id, event_type, key, payload, created_at, published, published_at, publish_attempts, last_error
		FROM outbox
		WHERE NOT published
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending outbox events: %w", err)
	}
	return events, nil
}

// MarkPublished flags the given rows as delivered to the broker
func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET published = TRUE, published_at = NOW(), updated_at = NOW() WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		log.Error().Err(err).Int("count", len(ids)).Msg("Failed to mark outbox events published")
		return fmt.Errorf("failed to mark outbox events published: %w", err)
	}
	return nil
}

// RecordPublishFailure bumps the attempt counter and keeps the last broker error
func (r *OutboxRepository) RecordPublishFailure(ctx context.Context, id int64, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET publish_attempts = publish_attempts + 1, last_error = $2, updated_at = NOW() WHERE id = $1`,
		id, lastError)
	if err != nil {
		return fmt.Errorf("failed to record publish failure for outbox event %d: %w", id, err)
	}
	return nil
}

func insertOutboxEvent(ctx context.Context, exec sqlx.ExecerContext, eventType, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	if _, err := exec.ExecContext(ctx,
		`INSERT INTO outbox (event_type, key, payload) VALUES ($1, $2, $3)`,
		eventType, key, string(body)); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Str("key", key).Msg("Failed to write outbox event")
		return fmt.Errorf("failed to write outbox event: %w", err)
	}
	return nil
}
