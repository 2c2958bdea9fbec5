package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"inventory-engine/internal/models"
)

const reservationColumns = `id, tenant_id, event_id, product_id, warehouse_id, quantity_reserved, quantity_delivered,
	quantity_returned, need_date, expected_return_date, state, cancelled, cancel_reason, notes, created_at, updated_at`

func outstandingStates() []string {
	states := make([]string, len(models.OutstandingStates))
	for i, s := range models.OutstandingStates {
		states[i] = string(s)
	}
	return states
}

// SumOutstanding sums reserved minus returned over the outstanding reservations of a position
func (s *Store) SumOutstanding(ctx context.Context, key models.PositionKey) (int64, error) {
	return sumOutstanding(ctx, s.db, key)
}

func sumOutstanding(ctx context.Context, q sqlx.QueryerContext, key models.PositionKey) (int64, error) {
	query := `SELECT COALESCE(SUM(quantity_reserved - quantity_returned), 0)
			  FROM reservations
			  WHERE tenant_id = $1 AND product_id = $2 AND warehouse_id = $3 AND state = ANY($4)`

	var total int64
	if err := sqlx.GetContext(ctx, q, &total, query, key.TenantID, key.ProductID, key.WarehouseID, pq.Array(outstandingStates())); err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("Failed to sum outstanding reservations")
		return 0, fmt.Errorf("failed to sum outstanding reservations: %w", err)
	}
	return total, nil
}

// GetReservation retrieves a reservation by ID within a tenant
func (s *Store) GetReservation(ctx context.Context, tenantID string, id uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1 AND tenant_id = $2`

	found, err := getOne(ctx, s.db, &reservation, query, id, tenantID)
	if err != nil {
		log.Error().Err(err).Str("reservation_id", id.String()).Msg("Failed to get reservation")
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &reservation, nil
}

// ListReservations lists reservations matching the filter, oldest first
func (s *Store) ListReservations(ctx context.Context, f models.ReservationFilter) ([]models.Reservation, error) {
	conds := []string{"tenant_id = $1"}
	args := []interface{}{f.TenantID}
	add := func(column string, value interface{}) {
		args = append(args, value)
		conds = append(conds, column+" = $"+strconv.Itoa(len(args)))
	}
	if f.EventID != "" {
		add("event_id", f.EventID)
	}
	if f.ProductID != "" {
		add("product_id", f.ProductID)
	}
	if f.WarehouseID != "" {
		add("warehouse_id", f.WarehouseID)
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		args = append(args, pq.Array(states))
		conds = append(conds, "state = ANY($"+strconv.Itoa(len(args))+")")
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY created_at ASC`

	var reservations []models.Reservation
	if err := s.db.SelectContext(ctx, &reservations, query, args...); err != nil {
		log.Error().Err(err).Str("tenant_id", f.TenantID).Msg("Failed to list reservations")
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return reservations, nil
}

// InsertReservation creates a new reservation
func (t *pgTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	query := `INSERT INTO reservations (id, tenant_id, event_id, product_id, warehouse_id, quantity_reserved,
			  quantity_delivered, quantity_returned, need_date, expected_return_date, state, cancelled, cancel_reason,
			  notes, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
			  RETURNING created_at, updated_at`

	err := t.tx.QueryRowxContext(ctx, query, r.ID, r.TenantID, r.EventID, r.ProductID, r.WarehouseID,
		r.QuantityReserved, r.QuantityDelivered, r.QuantityReturned, r.NeedDate, r.ExpectedReturnDate,
		r.State, r.Cancelled, r.CancelReason, r.Notes).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Str("reservation_id", r.ID.String()).Msg("Failed to create reservation")
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

// GetReservationForUpdate retrieves a reservation with row lock
func (t *pgTx) GetReservationForUpdate(ctx context.Context, tenantID string, id uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1 AND tenant_id = $2 FOR UPDATE`

	found, err := getOne(ctx, t.tx, &reservation, query, id, tenantID)
	if err != nil {
		log.Error().Err(err).Str("reservation_id", id.String()).Msg("Failed to get reservation for update")
		return nil, fmt.Errorf("failed to get reservation for update: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &reservation, nil
}

// UpdateReservation writes the counters and derived state of a locked reservation
func (t *pgTx) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	query := `UPDATE reservations
			  SET quantity_delivered = $2, quantity_returned = $3, state = $4, cancelled = $5,
			      cancel_reason = $6, updated_at = NOW()
			  WHERE id = $1
			  RETURNING updated_at`

	err := t.tx.QueryRowxContext(ctx, query, r.ID, r.QuantityDelivered, r.QuantityReturned, r.State,
		r.Cancelled, r.CancelReason).Scan(&r.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Str("reservation_id", r.ID.String()).Msg("Failed to update reservation")
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	return nil
}
