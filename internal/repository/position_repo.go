package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"inventory-engine/internal/models"
)

const positionColumns = `tenant_id, product_id, warehouse_id, quantity_on_hand, version, updated_at`

// GetPosition retrieves a stock position without locking it
func (s *Store) GetPosition(ctx context.Context, key models.PositionKey) (*models.StockPosition, error) {
	var position models.StockPosition
	query := `SELECT ` + positionColumns + ` FROM stock_positions
			  WHERE tenant_id = $1 AND product_id = $2 AND warehouse_id = $3`

	found, err := getOne(ctx, s.db, &position, query, key.TenantID, key.ProductID, key.WarehouseID)
	if err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("Failed to get stock position")
		return nil, fmt.Errorf("failed to get stock position: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &position, nil
}

// ListPositions lists the positions of a tenant, optionally narrowed by warehouse and products
func (s *Store) ListPositions(ctx context.Context, tenantID, warehouseID string, productIDs []string) ([]models.StockPosition, error) {
	return listPositions(ctx, s.db, tenantID, warehouseID, productIDs)
}

func listPositions(ctx context.Context, q sqlx.QueryerContext, tenantID, warehouseID string, productIDs []string) ([]models.StockPosition, error) {
	conds := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}
	if warehouseID != models.AllWarehouses {
		args = append(args, warehouseID)
		conds = append(conds, "warehouse_id = $"+strconv.Itoa(len(args)))
	}
	if len(productIDs) > 0 {
		args = append(args, pq.Array(productIDs))
		conds = append(conds, "product_id = ANY($"+strconv.Itoa(len(args))+")")
	}
	query := `SELECT ` + positionColumns + ` FROM stock_positions WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY warehouse_id, product_id`

	var positions []models.StockPosition
	if err := sqlx.SelectContext(ctx, q, &positions, query, args...); err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Str("warehouse_id", warehouseID).Msg("Failed to list stock positions")
		return nil, fmt.Errorf("failed to list stock positions: %w", err)
	}
	return positions, nil
}

// LockPosition creates the row if missing and locks it FOR UPDATE
func (t *pgTx) LockPosition(ctx context.Context, key models.PositionKey) (*models.StockPosition, error) {
	insert := `INSERT INTO stock_positions (tenant_id, product_id, warehouse_id, quantity_on_hand, version, updated_at)
			   VALUES ($1, $2, $3, 0, 0, NOW())
			   ON CONFLICT (tenant_id, product_id, warehouse_id) DO NOTHING`
	if _, err := t.tx.ExecContext(ctx, insert, key.TenantID, key.ProductID, key.WarehouseID); err != nil {
		return nil, fmt.Errorf("failed to ensure stock position: %w", err)
	}

	var position models.StockPosition
	query := `SELECT ` + positionColumns + ` FROM stock_positions
			  WHERE tenant_id = $1 AND product_id = $2 AND warehouse_id = $3 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &position, query, key.TenantID, key.ProductID, key.WarehouseID); err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("Failed to lock stock position")
		return nil, fmt.Errorf("failed to lock stock position: %w", err)
	}
	return &position, nil
}

// SavePosition writes the quantity of a locked position and bumps its version
func (t *pgTx) SavePosition(ctx context.Context, position *models.StockPosition) error {
	query := `UPDATE stock_positions
			  SET quantity_on_hand = $4, version = version + 1, updated_at = NOW()
			  WHERE tenant_id = $1 AND product_id = $2 AND warehouse_id = $3 AND version = $5
			  RETURNING version, updated_at`

	err := t.tx.QueryRowxContext(ctx, query, position.TenantID, position.ProductID, position.WarehouseID,
		position.QuantityOnHand, position.Version).Scan(&position.Version, &position.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Str("key", position.Key().String()).Msg("Failed to save stock position")
		return fmt.Errorf("failed to save stock position: %w", err)
	}
	return nil
}

// InsertMovement appends a journal record
func (t *pgTx) InsertMovement(ctx context.Context, movement *models.Movement) error {
	query := `INSERT INTO stock_movements (tenant_id, product_id, warehouse_id, delta, quantity_before, quantity_after,
			  reason, reference_type, reference_id, actor, note, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
			  RETURNING id, created_at`

	err := t.tx.QueryRowxContext(ctx, query, movement.TenantID, movement.ProductID, movement.WarehouseID,
		movement.Delta, movement.QuantityBefore, movement.QuantityAfter, movement.Reason,
		movement.ReferenceType, movement.ReferenceID, movement.Actor, movement.Note).
		Scan(&movement.ID, &movement.CreatedAt)
	if err != nil {
		log.Error().Err(err).Str("product_id", movement.ProductID).Msg("Failed to insert stock movement")
		return fmt.Errorf("failed to insert stock movement: %w", err)
	}
	return nil
}

// ListMovements returns the newest movements of a position first
func (s *Store) ListMovements(ctx context.Context, key models.PositionKey, limit int) ([]models.Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, tenant_id, product_id, warehouse_id, delta, quantity_before, quantity_after,
			  reason, reference_type, reference_id, actor, note, created_at
			  FROM stock_movements
			  WHERE tenant_id = $1 AND product_id = $2 AND warehouse_id = $3
			  ORDER BY id DESC
			  LIMIT $4`

	var movements []models.Movement
	if err := s.db.SelectContext(ctx, &movements, query, key.TenantID, key.ProductID, key.WarehouseID, limit); err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("Failed to list stock movements")
		return nil, fmt.Errorf("failed to list stock movements: %w", err)
	}
	return movements, nil
}
