package repository

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"inventory-engine/internal/models"
)

// GetKit retrieves a kit template and its lines
func (s *Store) GetKit(ctx context.Context, tenantID, kitID string) (*models.Kit, error) {
	var kit models.Kit
	query := `SELECT id, tenant_id, name, event_type, capacity_persons FROM kits WHERE id = $1 AND tenant_id = $2`

	found, err := getOne(ctx, s.db, &kit, query, kitID, tenantID)
	if err != nil {
		log.Error().Err(err).Str("kit_id", kitID).Msg("Failed to get kit")
		return nil, fmt.Errorf("failed to get kit: %w", err)
	}
	if !found {
		return nil, nil
	}

	linesQuery := `SELECT kit_id, product_id, qty_per_person, qty_minimum
				   FROM kit_lines WHERE kit_id = $1 AND tenant_id = $2
				   ORDER BY product_id`
	if err := s.db.SelectContext(ctx, &kit.Lines, linesQuery, kitID, tenantID); err != nil {
		log.Error().Err(err).Str("kit_id", kitID).Msg("Failed to get kit lines")
		return nil, fmt.Errorf("failed to get kit lines: %w", err)
	}
	return &kit, nil
}

// GetProduct retrieves a catalog product
func (s *Store) GetProduct(ctx context.Context, tenantID, productID string) (*models.Product, error) {
	var product models.Product
	query := `SELECT id, tenant_id, name, unit, unit_cost FROM products WHERE id = $1 AND tenant_id = $2`

	found, err := getOne(ctx, s.db, &product, query, productID, tenantID)
	if err != nil {
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to get product")
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &product, nil
}

// GetWarehouse retrieves a catalog warehouse
func (s *Store) GetWarehouse(ctx context.Context, tenantID, warehouseID string) (*models.Warehouse, error) {
	var warehouse models.Warehouse
	query := `SELECT id, tenant_id, name FROM warehouses WHERE id = $1 AND tenant_id = $2`

	found, err := getOne(ctx, s.db, &warehouse, query, warehouseID, tenantID)
	if err != nil {
		log.Error().Err(err).Str("warehouse_id", warehouseID).Msg("Failed to get warehouse")
		return nil, fmt.Errorf("failed to get warehouse: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &warehouse, nil
}
