package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/metrics"
	"inventory-engine/internal/models"
)

const countSessionEntity = "count_session"

// CountService runs physical count sessions and applies their differences
// through the ledger
type CountService struct {
	store   interfaces.Store
	ledger  *Ledger
	catalog interfaces.CatalogService
	cache   interfaces.CacheRepository
	config  ServiceConfig
	invalidator
}

var _ interfaces.CountReconciler = (*CountService)(nil)

// NewCountService creates a new count reconciler. cache may be nil.
func NewCountService(
	store interfaces.Store,
	ledger *Ledger,
	catalog interfaces.CatalogService,
	cache interfaces.CacheRepository,
	config ServiceConfig,
) (*CountService, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}
	return &CountService{
		store:       store,
		ledger:      ledger,
		catalog:     catalog,
		cache:       cache,
		config:      config,
		invalidator: invalidator{cache: cache, timeout: config.CacheTimeout},
	}, nil
}

// CreateSession schedules a session over one warehouse, or all of them when warehouseID is empty
func (s *CountService) CreateSession(ctx context.Context, tenantID, warehouseID string, kind models.CountKind, productFilter []string) (*models.CountSession, error) {
	if tenantID == "" {
		return nil, models.NewValidationError("tenant_id", "tenant is required", nil)
	}
	if !kind.Valid() {
		return nil, models.NewValidationError("kind", "unknown count kind", kind)
	}
	if kind == models.CountKindPartial && len(productFilter) == 0 {
		return nil, models.NewValidationError("product_ids", "a partial count needs a product filter", nil)
	}

	session := &models.CountSession{
		ID:            uuid.New(),
		TenantID:      tenantID,
		WarehouseID:   warehouseID,
		Kind:          kind,
		State:         models.CountStateScheduled,
		ProductFilter: dedupe(productFilter),
	}
	err := withContentionRetry(ctx, s.config, "count.create", func(ctx context.Context) error {
		return s.store.InTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
			if err := tx.InsertCountSession(ctx, session); err != nil {
				return err
			}
			return writeCountEvent(ctx, tx, models.EventTypeCountScheduled, session)
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("tenant_id", tenantID).
		Str("warehouse_id", warehouseID).
		Str("kind", string(kind)).
		Msg("Count session scheduled")
	return session, nil
}

// GenerateLines snapshots the on-hand quantity of every position in scope
func (s *CountService) GenerateLines(ctx context.Context, tenantID string, sessionID uuid.UUID) (int, error) {
	var created int
	err := withContentionRetry(ctx, s.config, "count.generate", func(ctx context.Context) error {
		return s.store.InTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
			session, err := s.lockSession(ctx, tx, tenantID, sessionID)
			if err != nil {
				return err
			}
			if session.State != models.CountStateScheduled {
				return models.NewInvalidTransition(countSessionEntity, sessionID.String(), string(session.State), "generate lines")
			}
			if session.LinesCount > 0 {
				return &models.InvalidStateTransitionError{
					Entity: countSessionEntity, ID: sessionID.String(), From: string(session.State),
					Operation: "generate lines", Reason: "lines already generated",
				}
			}

			positions, err := tx.ListPositions(ctx, tenantID, session.WarehouseID, session.ProductFilter)
			if err != nil {
				return err
			}
			lines := buildCountLines(session, positions)
			if err := tx.InsertCountLines(ctx, lines); err != nil {
				return err
			}

			session.LinesCount = len(lines)
			if err := tx.UpdateCountSession(ctx, session); err != nil {
				return err
			}
			created = len(lines)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	log.Info().Str("session_id", sessionID.String()).Int("lines", created).Msg("Count lines generated")
	return created, nil
}

// buildCountLines creates one line per position. With a single warehouse and a
// product filter, filtered products without a position get a zero snapshot.
func buildCountLines(session *models.CountSession, positions []models.StockPosition) []models.CountLine {
	lines := make([]models.CountLine, 0, len(positions))
	seen := make(map[string]bool, len(positions))
	for _, p := range positions {
		seen[p.ProductID] = true
		lines = append(lines, newCountLine(session, p.ProductID, p.WarehouseID, p.QuantityOnHand))
	}
	if !session.CoversAllWarehouses() {
		for _, productID := range session.ProductFilter {
			if !seen[productID] {
				lines = append(lines, newCountLine(session, productID, session.WarehouseID, 0))
			}
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].WarehouseID != lines[j].WarehouseID {
			return lines[i].WarehouseID < lines[j].WarehouseID
		}
		return lines[i].ProductID < lines[j].ProductID
	})
	return lines
}

func newCountLine(session *models.CountSession, productID, warehouseID string, system int64) models.CountLine {
	return models.CountLine{
		ID:             uuid.New(),
		SessionID:      session.ID,
		TenantID:       session.TenantID,
		ProductID:      productID,
		WarehouseID:    warehouseID,
		QuantitySystem: system,
	}
}

// Start moves a session with lines from scheduled to in progress
func (s *CountService) Start(ctx context.Context, tenantID string, sessionID uuid.UUID) (*models.CountSession, error) {
	return s.transition(ctx, tenantID, sessionID, "start", models.EventTypeCountStarted, func(session *models.CountSession, now time.Time) error {
		if session.State != models.CountStateScheduled {
			return models.NewInvalidTransition(countSessionEntity, sessionID.String(), string(session.State), "start")
		}
		if session.LinesCount == 0 {
			return &models.InvalidStateTransitionError{
				Entity: countSessionEntity, ID: sessionID.String(), From: string(session.State),
				Operation: "start", Reason: "no lines generated",
			}
		}
		session.State = models.CountStateInProgress
		session.StartedAt = &now
		return nil
	})
}

// Cancel abandons a session that has not completed. It never touches the ledger.
func (s *CountService) Cancel(ctx context.Context, tenantID string, sessionID uuid.UUID) (*models.CountSession, error) {
	return s.transition(ctx, tenantID, sessionID, "cancel", models.EventTypeCountCancelled, func(session *models.CountSession, now time.Time) error {
		if session.State != models.CountStateScheduled && session.State != models.CountStateInProgress {
			return models.NewInvalidTransition(countSessionEntity, sessionID.String(), string(session.State), "cancel")
		}
		session.State = models.CountStateCancelled
		session.CancelledAt = &now
		return nil
	})
}

func (s *CountService) transition(
	ctx context.Context,
	tenantID string,
	sessionID uuid.UUID,
	operation, eventType string,
	mutate func(session *models.CountSession, now time.Time) error,
) (*models.CountSession, error) {
	var updated *models.CountSession
	err := withContentionRetry(ctx, s.config, "count."+operation, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
			session, err := s.lockSession(ctx, tx, tenantID, sessionID)
			if err != nil {
				return err
			}
			if err := mutate(session, time.Now().UTC()); err != nil {
				return err
			}
			if err := tx.UpdateCountSession(ctx, session); err != nil {
				return err
			}
			if err := writeCountEvent(ctx, tx, eventType, session); err != nil {
				return err
			}
			updated = session
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("session_id", sessionID.String()).Str("state", string(updated.State)).Msg("Count session updated")
	return updated, nil
}

// RecordCount sets the counted quantity of a line. Re-recording overwrites.
func (s *CountService) RecordCount(ctx context.Context, tenantID string, lineID uuid.UUID, counted int64) (*models.CountLine, error) {
	if counted < 0 {
		return nil, models.NewInvalidQuantity("quantity_counted", counted, "must not be negative")
	}

	var recorded *models.CountLine
	err := withContentionRetry(ctx, s.config, "count.record", func(ctx context.Context) error {
		return s.store.InTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
			line, err := tx.GetCountLineForUpdate(ctx, tenantID, lineID)
			if err != nil {
				return err
			}
			if line == nil {
				return models.NewNotFoundError("count_line", lineID.String())
			}
			session, err := s.lockSession(ctx, tx, tenantID, line.SessionID)
			if err != nil {
				return err
			}
			if session.State != models.CountStateInProgress {
				return models.NewInvalidTransition(countSessionEntity, session.ID.String(), string(session.State), "record count")
			}

			line.Record(counted, time.Now().UTC())
			if err := tx.UpdateCountLine(ctx, line); err != nil {
				return err
			}
			recorded = line
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("line_id", lineID.String()).
		Int64("system", recorded.QuantitySystem).
		Int64("counted", counted).
		Msg("Count recorded")
	return recorded, nil
}

// Complete freezes a fully counted session and returns its summary
func (s *CountService) Complete(ctx context.Context, tenantID string, sessionID uuid.UUID) (*models.CountSummary, error) {
	var (
		completed *models.CountSession
		lines     []models.CountLine
	)
	err := withContentionRetry(ctx, s.config, "count.complete", func(ctx context.Context) error {
		return s.store.InTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
			session, err := s.lockSession(ctx, tx, tenantID, sessionID)
			if err != nil {
				return err
			}
			if session.State != models.CountStateInProgress {
				return models.NewInvalidTransition(countSessionEntity, sessionID.String(), string(session.State), "complete")
			}

			sessionLines, err := tx.ListCountLines(ctx, tenantID, sessionID)
			if err != nil {
				return err
			}
			uncounted := 0
			for i := range sessionLines {
				if !sessionLines[i].Counted() {
					uncounted++
				}
			}
			if uncounted > 0 {
				return &models.InvalidStateTransitionError{
					Entity: countSessionEntity, ID: sessionID.String(), From: string(session.State),
					Operation: "complete", Reason: fmt.Sprintf("%d of %d lines not counted", uncounted, len(sessionLines)),
				}
			}

			now := time.Now().UTC()
			session.State = models.CountStateCompleted
			session.CompletedAt = &now
			if err := tx.UpdateCountSession(ctx, session); err != nil {
				return err
			}
			if err := writeCountEvent(ctx, tx, models.EventTypeCountCompleted, session); err != nil {
				return err
			}
			completed, lines = session, sessionLines
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("session_id", sessionID.String()).Int("lines", len(lines)).Msg("Count session completed")
	return s.summarize(ctx, completed, lines)
}

// Summarize reports the differences of a session in units and value
func (s *CountService) Summarize(ctx context.Context, tenantID string, sessionID uuid.UUID) (*models.CountSummary, error) {
	session, err := s.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	lines, err := s.store.ListCountLines(ctx, tenantID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list count lines: %w", err)
	}
	return s.summarize(ctx, session, lines)
}

func (s *CountService) summarize(ctx context.Context, session *models.CountSession, lines []models.CountLine) (*models.CountSummary, error) {
	summary := &models.CountSummary{
		SessionID:     session.ID,
		TotalLines:    len(lines),
		PositiveValue: decimal.Zero,
		NegativeValue: decimal.Zero,
	}
	unpriced := make(map[string]bool)
	costs := make(map[string]*decimal.Decimal)

	for i := range lines {
		line := &lines[i]
		if !line.Counted() {
			continue
		}
		summary.CountedLines++
		diff := line.Difference()
		if diff == 0 {
			continue
		}
		summary.LinesWithDiff++

		cost, ok := costs[line.ProductID]
		if !ok {
			var err error
			cost, err = s.unitCost(ctx, session.TenantID, line.ProductID)
			if err != nil {
				return nil, err
			}
			costs[line.ProductID] = cost
		}
		if cost == nil {
			unpriced[line.ProductID] = true
		}

		units := diff
		if units < 0 {
			units = -units
		}
		var value decimal.Decimal
		if cost != nil {
			value = cost.Mul(decimal.NewFromInt(units))
		}
		if diff > 0 {
			summary.PositiveUnits += units
			summary.PositiveValue = summary.PositiveValue.Add(value)
		} else {
			summary.NegativeUnits += units
			summary.NegativeValue = summary.NegativeValue.Add(value)
		}
	}

	summary.NetValue = summary.PositiveValue.Sub(summary.NegativeValue)
	for productID := range unpriced {
		summary.UnpricedProductIDs = append(summary.UnpricedProductIDs, productID)
	}
	sort.Strings(summary.UnpricedProductIDs)
	return summary, nil
}

// unitCost returns nil for products the catalog does not know
func (s *CountService) unitCost(ctx context.Context, tenantID, productID string) (*decimal.Decimal, error) {
	if s.cache != nil {
		if product, err := s.cache.GetProduct(ctx, tenantID, productID); err == nil && product != nil {
			return &product.UnitCost, nil
		}
	}
	if s.catalog == nil {
		return nil, nil
	}

	product, err := s.catalog.GetProduct(ctx, tenantID, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if product == nil {
		return nil, nil
	}
	if s.cache != nil {
		if err := s.cache.SetProduct(ctx, product); err != nil {
			log.Debug().Err(err).Str("product_id", productID).Msg("Failed to cache product")
		}
	}
	return &product.UnitCost, nil
}

// ApplyAdjustments writes every non-zero difference of a completed session to
// the ledger. Each line is applied in its own transaction and marked applied,
// so calling again only retries lines that failed.
func (s *CountService) ApplyAdjustments(ctx context.Context, tenantID string, sessionID uuid.UUID, actor string) (*models.AdjustmentResult, error) {
	if actor == "" {
		return nil, models.NewValidationError("actor", "actor is required", nil)
	}
	session, err := s.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != models.CountStateCompleted {
		return nil, models.NewInvalidTransition(countSessionEntity, sessionID.String(), string(session.State), "apply adjustments")
	}

	lines, err := s.store.ListCountLines(ctx, tenantID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list count lines: %w", err)
	}

	result := &models.AdjustmentResult{Errors: []models.ItemFailure{}}
	for i := range lines {
		line := &lines[i]
		if line.AppliedAt != nil {
			result.AlreadyApplied++
			continue
		}
		if line.Difference() == 0 {
			continue
		}

		saved, err := s.applyLine(ctx, tenantID, session, line.ID, actor)
		switch {
		case err != nil:
			metrics.CountAdjustments.WithLabelValues("failed").Inc()
			log.Warn().Err(err).
				Str("session_id", sessionID.String()).
				Str("key", line.Key().String()).
				Int64("difference", line.Difference()).
				Msg("Count adjustment not applied")
			result.Errors = append(result.Errors, models.NewItemFailure(line.ProductID, err))
		case saved != nil:
			metrics.CountAdjustments.WithLabelValues("applied").Inc()
			result.Applied++
			s.invalidate(ctx, saved)
		default:
			metrics.CountAdjustments.WithLabelValues("already_applied").Inc()
			result.AlreadyApplied++
		}
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Int("applied", result.Applied).
		Int("already_applied", result.AlreadyApplied).
		Int("failed", len(result.Errors)).
		Msg("Count adjustments applied")

	return result, nil
}

// applyLine returns the adjusted position, or nil when another caller applied the line first
func (s *CountService) applyLine(ctx context.Context, tenantID string, session *models.CountSession, lineID uuid.UUID, actor string) (*models.StockPosition, error) {
	var saved *models.StockPosition
	err := withContentionRetry(ctx, s.config, "count.apply", func(ctx context.Context) error {
		saved = nil
		return s.store.InTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
			line, err := tx.GetCountLineForUpdate(ctx, tenantID, lineID)
			if err != nil {
				return err
			}
			if line == nil {
				return models.NewNotFoundError("count_line", lineID.String())
			}
			if line.AppliedAt != nil {
				return nil
			}

			position, err := s.ledger.AdjustTx(ctx, tx, line.Key(), line.Difference(), models.ReasonCountAdjustment, interfaces.AdjustOptions{
				Actor:         actor,
				Note:          fmt.Sprintf("%s count, line %s", session.Kind, line.ID),
				ReferenceType: countSessionEntity,
				ReferenceID:   session.ID.String(),
			})
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			line.AppliedAt = &now
			line.AppliedBy = &actor
			if err := tx.UpdateCountLine(ctx, line); err != nil {
				return err
			}
			saved = position
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// GetSession retrieves a count session
func (s *CountService) GetSession(ctx context.Context, tenantID string, sessionID uuid.UUID) (*models.CountSession, error) {
	session, err := s.store.GetCountSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get count session: %w", err)
	}
	if session == nil {
		return nil, models.NewNotFoundError(countSessionEntity, sessionID.String())
	}
	return session, nil
}

// ListLines lists the lines of a count session
func (s *CountService) ListLines(ctx context.Context, tenantID string, sessionID uuid.UUID) ([]models.CountLine, error) {
	if _, err := s.GetSession(ctx, tenantID, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListCountLines(ctx, tenantID, sessionID)
}

func (s *CountService) lockSession(ctx context.Context, tx interfaces.Tx, tenantID string, sessionID uuid.UUID) (*models.CountSession, error) {
	session, err := tx.GetCountSessionForUpdate(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, models.NewNotFoundError(countSessionEntity, sessionID.String())
	}
	return session, nil
}

func writeCountEvent(ctx context.Context, tx interfaces.Tx, eventType string, session *models.CountSession) error {
	id := session.ID
	event := &models.EngineEvent{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		TenantID:    session.TenantID,
		WarehouseID: session.WarehouseID,
		SessionID:   &id,
		State:       string(session.State),
		Timestamp:   time.Now().UTC(),
		Attributes:  map[string]string{"kind": string(session.Kind)},
	}
	return tx.CreateOutboxEvent(ctx, eventType, event.PartitionKey(), event)
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
