package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"inventory-engine/internal/models"
)

const countSessionColumns = `id, tenant_id, warehouse_id, kind, state, product_filter, lines_count,
	created_at, started_at, completed_at, cancelled_at`

const countLineColumns = `id, session_id, tenant_id, product_id, warehouse_id, quantity_system, quantity_counted,
	counted_at, applied_at, applied_by, difference`

// countSessionRow carries the product filter column the model does not map
type countSessionRow struct {
	models.CountSession
	ProductFilter pq.StringArray `db:"product_filter"`
}

func (r *countSessionRow) session() *models.CountSession {
	cs := r.CountSession
	cs.ProductFilter = []string(r.ProductFilter)
	return &cs
}

func getCountSession(ctx context.Context, q sqlx.QueryerContext, tenantID string, id uuid.UUID, forUpdate bool) (*models.CountSession, error) {
	query := `SELECT ` + countSessionColumns + ` FROM count_sessions WHERE id = $1 AND tenant_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var row countSessionRow
	found, err := getOne(ctx, q, &row, query, id, tenantID)
	if err != nil {
		log.Error().Err(err).Str("session_id", id.String()).Msg("Failed to get count session")
		return nil, fmt.Errorf("failed to get count session: %w", err)
	}
	if !found {
		return nil, nil
	}
	return row.session(), nil
}

// GetCountSession retrieves a count session within a tenant
func (s *Store) GetCountSession(ctx context.Context, tenantID string, id uuid.UUID) (*models.CountSession, error) {
	return getCountSession(ctx, s.db, tenantID, id, false)
}

// ListCountLines lists the lines of a session ordered by warehouse and product
func (s *Store) ListCountLines(ctx context.Context, tenantID string, sessionID uuid.UUID) ([]models.CountLine, error) {
	return listCountLines(ctx, s.db, tenantID, sessionID)
}

func listCountLines(ctx context.Context, q sqlx.QueryerContext, tenantID string, sessionID uuid.UUID) ([]models.CountLine, error) {
	query := `SELECT ` + countLineColumns + ` FROM count_lines
			  WHERE session_id = $1 AND tenant_id = $2
			  ORDER BY warehouse_id, product_id`

	var lines []models.CountLine
	if err := sqlx.SelectContext(ctx, q, &lines, query, sessionID, tenantID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to list count lines")
		return nil, fmt.Errorf("failed to list count lines: %w", err)
	}
	return lines, nil
}

// InsertCountSession creates a scheduled session
func (t *pgTx) InsertCountSession(ctx context.Context, cs *models.CountSession) error {
	query := `INSERT INTO count_sessions (id, tenant_id, warehouse_id, kind, state, product_filter, lines_count, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			  RETURNING created_at`

	err := t.tx.QueryRowxContext(ctx, query, cs.ID, cs.TenantID, cs.WarehouseID, cs.Kind, cs.State,
		pq.StringArray(cs.ProductFilter), cs.LinesCount).Scan(&cs.CreatedAt)
	if err != nil {
		log.Error().Err(err).Str("session_id", cs.ID.String()).Msg("Failed to create count session")
		return fmt.Errorf("failed to create count session: %w", err)
	}
	return nil
}

// GetCountSessionForUpdate retrieves a count session with row lock
func (t *pgTx) GetCountSessionForUpdate(ctx context.Context, tenantID string, id uuid.UUID) (*models.CountSession, error) {
	return getCountSession(ctx, t.tx, tenantID, id, true)
}

// UpdateCountSession writes the state, line count and timestamps of a locked session
func (t *pgTx) UpdateCountSession(ctx context.Context, cs *models.CountSession) error {
	query := `UPDATE count_sessions
			  SET state = $2, lines_count = $3, started_at = $4, completed_at = $5, cancelled_at = $6
			  WHERE id = $1`

	result, err := t.tx.ExecContext(ctx, query, cs.ID, cs.State, cs.LinesCount, cs.StartedAt, cs.CompletedAt, cs.CancelledAt)
	if err != nil {
		log.Error().Err(err).Str("session_id", cs.ID.String()).Msg("Failed to update count session")
		return fmt.Errorf("failed to update count session: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("count session not found")
	}
	return nil
}

// InsertCountLines bulk inserts the snapshot lines of a session
func (t *pgTx) InsertCountLines(ctx context.Context, lines []models.CountLine) error {
	if len(lines) == 0 {
		return nil
	}
	query := `INSERT INTO count_lines (id, session_id, tenant_id, product_id, warehouse_id, quantity_system)
			  VALUES (:id, :session_id, :tenant_id, :product_id, :warehouse_id, :quantity_system)`

	if _, err := t.tx.NamedExecContext(ctx, query, lines); err != nil {
		log.Error().Err(err).Str("session_id", lines[0].SessionID.String()).Int("count", len(lines)).Msg("Failed to insert count lines")
		return fmt.Errorf("failed to insert count lines: %w", err)
	}
	return nil
}

// GetCountLineForUpdate retrieves a count line with row lock
func (t *pgTx) GetCountLineForUpdate(ctx context.Context, tenantID string, lineID uuid.UUID) (*models.CountLine, error) {
	var line models.CountLine
	query := `SELECT ` + countLineColumns + ` FROM count_lines WHERE id = $1 AND tenant_id = $2 FOR UPDATE`

	found, err := getOne(ctx, t.tx, &line, query, lineID, tenantID)
	if err != nil {
		log.Error().Err(err).Str("line_id", lineID.String()).Msg("Failed to get count line for update")
		return nil, fmt.Errorf("failed to get count line for update: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &line, nil
}

// UpdateCountLine writes the counted quantity and application marker of a locked line
func (t *pgTx) UpdateCountLine(ctx context.Context, line *models.CountLine) error {
	query := `UPDATE count_lines
			  SET quantity_counted = $2, counted_at = $3, difference = $4, applied_at = $5, applied_by = $6
			  WHERE id = $1`

	if _, err := t.tx.ExecContext(ctx, query, line.ID, line.QuantityCounted, line.CountedAt,
		line.DifferenceStored, line.AppliedAt, line.AppliedBy); err != nil {
		log.Error().Err(err).Str("line_id", line.ID.String()).Msg("Failed to update count line")
		return fmt.Errorf("failed to update count line: %w", err)
	}
	return nil
}
