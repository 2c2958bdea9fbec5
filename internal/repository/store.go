package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/models"
)

// Postgres error codes that mean "try again later" rather than "wrong request".
const (
	pqLockNotAvailable     = "55P03"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// Store implements interfaces.Store on PostgreSQL
type Store struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

var (
	_ interfaces.Store          = (*Store)(nil)
	_ interfaces.KitRepository  = (*Store)(nil)
	_ interfaces.CatalogService = (*Store)(nil)
)

// NewStore creates a new store. lockTimeout bounds every row lock wait inside InTx.
func NewStore(db *sqlx.DB, lockTimeout time.Duration) *Store {
	return &Store{db: db, lockTimeout: lockTimeout}
}

// DB exposes the underlying pool for health checks
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// InTx runs fn inside a database transaction with a local lock_timeout
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin transaction")
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := sqlTx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Error().Err(err).Msg("Failed to rollback transaction")
		}
	}()

	if s.lockTimeout > 0 {
		ms := strconv.FormatInt(s.lockTimeout.Milliseconds(), 10) + "ms"
		if _, err := sqlTx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return mapError(err)
	}

	if err := sqlTx.Commit(); err != nil {
		log.Error().Err(err).Msg("Failed to commit transaction")
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// mapError turns lock and serialization failures into ContentionError
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case pqLockNotAvailable, pqSerializationFailure, pqDeadlockDetected:
		resource := pqErr.Table
		if resource == "" {
			resource = "database"
		}
		return models.NewContentionError(resource, err)
	}
	return err
}

// pgTx is the transactional view handed to InTx callbacks
type pgTx struct {
	tx *sqlx.Tx
}

var _ interfaces.Tx = (*pgTx)(nil)

func (t *pgTx) SumOutstanding(ctx context.Context, key models.PositionKey) (int64, error) {
	return sumOutstanding(ctx, t.tx, key)
}

func (t *pgTx) ListPositions(ctx context.Context, tenantID, warehouseID string, productIDs []string) ([]models.StockPosition, error) {
	return listPositions(ctx, t.tx, tenantID, warehouseID, productIDs)
}

func (t *pgTx) ListCountLines(ctx context.Context, tenantID string, sessionID uuid.UUID) ([]models.CountLine, error) {
	return listCountLines(ctx, t.tx, tenantID, sessionID)
}

func (t *pgTx) CreateOutboxEvent(ctx context.Context, eventType, key string, payload interface{}) error {
	return insertOutboxEvent(ctx, t.tx, eventType, key, payload)
}

func getOne(ctx context.Context, q sqlx.QueryerContext, dest interface{}, query string, args ...interface{}) (bool, error) {
	if err := sqlx.GetContext(ctx, q, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
