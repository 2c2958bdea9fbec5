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

// ReservationService handles the reservation lifecycle
type ReservationService struct {
	store  interfaces.Store
	config ServiceConfig
	invalidator
}

var _ interfaces.ReservationManager = (*ReservationService)(nil)

// NewReservationService creates a new reservation manager
func NewReservationService(store interfaces.Store, cache interfaces.CacheRepository, config ServiceConfig) (*ReservationService, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}
	return &ReservationService{
		store:       store,
		config:      config,
		invalidator: invalidator{cache: cache, timeout: config.CacheTimeout},
	}, nil
}

// Reserve earmarks quantity units of a position for an event. The availability
// check and the insert run under the position lock.
func (s *ReservationService) Reserve(ctx context.Context, tenantID string, req interfaces.ReserveInput) (*models.Reservation, error) {
	key := models.PositionKey{TenantID: tenantID, ProductID: req.ProductID, WarehouseID: req.WarehouseID}
	if err := s.validateReserve(key, req); err != nil {
		return nil, err
	}

	var (
		created *models.Reservation
		saved   *models.StockPosition
	)
	err := withContentionRetry(ctx, s.config, "reserve", func(ctx context.Context) error {
		return s.store.InTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
			position, available, err := availableTx(ctx, tx, key)
			if err != nil {
				return err
			}
			if req.Quantity > available {
				return &models.InsufficientStockError{Key: key, Requested: req.Quantity, Available: max(available, 0)}
			}
			// availability changed, so the position version moves with it
			if err := tx.SavePosition(ctx, position); err != nil {
				return err
			}

			reservation := &models.Reservation{
				ID:                 uuid.New(),
				TenantID:           tenantID,
				EventID:            req.EventID,
				ProductID:          req.ProductID,
				WarehouseID:        req.WarehouseID,
				QuantityReserved:   req.Quantity,
				NeedDate:           req.NeedDate,
				ExpectedReturnDate: req.ExpectedReturnDate,
				Notes:              req.Notes,
			}
			reservation.Refresh()

			if err := tx.InsertReservation(ctx, reservation); err != nil {
				return err
			}
			if err := writeReservationEvent(ctx, tx, models.EventTypeReservationCreated, reservation, position.Version, req.Quantity); err != nil {
				return err
			}
			created, saved = reservation, position
			return nil
		})
	})
	metrics.Reservations.WithLabelValues("reserve", metrics.ResultOf(err)).Inc()
	if err != nil {
		if models.IsInsufficientStock(err) {
			log.Info().Err(err).Str("key", key.String()).Msg("Reservation rejected")
		}
		return nil, err
	}

	log.Info().
		Str("reservation_id", created.ID.String()).
		Str("event_id", created.EventID).
		Str("key", key.String()).
		Int64("quantity", created.QuantityReserved).
		Msg("Reservation created")

	s.invalidate(ctx, saved)
	return created, nil
}

func (s *ReservationService) validateReserve(key models.PositionKey, req interfaces.ReserveInput) error {
	if err := requireKey(key); err != nil {
		return err
	}
	if req.EventID == "" {
		return models.NewValidationError("event_id", "event is required", nil)
	}
	if req.Quantity <= 0 {
		return models.NewInvalidQuantity("quantity", req.Quantity, "must be positive")
	}
	if req.NeedDate.IsZero() {
		return models.NewValidationError("need_date", "need date is required", nil)
	}
	if req.ExpectedReturnDate != nil && req.ExpectedReturnDate.Before(req.NeedDate) {
		return models.NewValidationError("expected_return_date", "return date is before need date", req.ExpectedReturnDate)
	}
	return nil
}

// Deliver records quantity units as handed out
func (s *ReservationService) Deliver(ctx context.Context, tenantID string, id uuid.UUID, quantity int64) (*models.Reservation, error) {
	if quantity <= 0 {
		return nil, models.NewInvalidQuantity("quantity", quantity, "must be positive")
	}
	return s.transition(ctx, tenantID, id, "deliver", models.EventTypeReservationDelivered, quantity, func(r *models.Reservation) error {
		if r.State != models.ReservationStateActive && r.State != models.ReservationStatePartial {
			return models.NewInvalidTransition("reservation", r.ID.String(), string(r.State), "deliver")
		}
		remaining := r.QuantityReserved - r.QuantityDelivered
		if quantity > remaining {
			return models.NewInvalidQuantity("quantity", quantity, fmt.Sprintf("only %d left to deliver", remaining))
		}
		r.QuantityDelivered += quantity
		return nil
	})
}

// ReturnStock records quantity delivered units as back in the warehouse
func (s *ReservationService) ReturnStock(ctx context.Context, tenantID string, id uuid.UUID, quantity int64) (*models.Reservation, error) {
	if quantity <= 0 {
		return nil, models.NewInvalidQuantity("quantity", quantity, "must be positive")
	}
	return s.transition(ctx, tenantID, id, "return", models.EventTypeReservationReturned, quantity, func(r *models.Reservation) error {
		if r.State != models.ReservationStatePartial && r.State != models.ReservationStateDelivered {
			return models.NewInvalidTransition("reservation", r.ID.String(), string(r.State), "return")
		}
		remaining := r.QuantityDelivered - r.QuantityReturned
		if quantity > remaining {
			return models.NewInvalidQuantity("quantity", quantity, fmt.Sprintf("only %d left to return", remaining))
		}
		r.QuantityReturned += quantity
		return nil
	})
}

// Cancel releases a reservation nothing has been delivered from
func (s *ReservationService) Cancel(ctx context.Context, tenantID string, id uuid.UUID, reason string) (*models.Reservation, error) {
	return s.transition(ctx, tenantID, id, "cancel", models.EventTypeReservationCancelled, 0, func(r *models.Reservation) error {
		if r.State != models.ReservationStateActive || r.QuantityDelivered != 0 {
			return models.NewInvalidTransition("reservation", r.ID.String(), string(r.State), "cancel")
		}
		r.Cancelled = true
		r.CancelReason = reason
		return nil
	})
}

// transition locks the reservation's position, then the reservation, applies
// mutate and re-derives the state. Position first, as in Reserve.
func (s *ReservationService) transition(
	ctx context.Context,
	tenantID string,
	id uuid.UUID,
	operation, eventType string,
	quantity int64,
	mutate func(r *models.Reservation) error,
) (*models.Reservation, error) {
	if tenantID == "" {
		return nil, models.NewValidationError("tenant_id", "tenant is required", nil)
	}

	// the position of a reservation never changes, so it can be read unlocked
	current, err := s.GetReservation(ctx, tenantID, id)
	if err != nil {
		metrics.Reservations.WithLabelValues(operation, metrics.ResultOf(err)).Inc()
		return nil, err
	}
	key := current.Key()

	var (
		updated *models.Reservation
		saved   *models.StockPosition
	)
	err = withContentionRetry(ctx, s.config, operation, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
			position, err := tx.LockPosition(ctx, key)
			if err != nil {
				return err
			}
			reservation, err := tx.GetReservationForUpdate(ctx, tenantID, id)
			if err != nil {
				return err
			}
			if reservation == nil {
				return models.NewNotFoundError("reservation", id.String())
			}

			if err := mutate(reservation); err != nil {
				return err
			}
			reservation.Refresh()
			if err := reservation.CheckInvariants(); err != nil {
				return err
			}

			if err := tx.UpdateReservation(ctx, reservation); err != nil {
				return err
			}
			if err := tx.SavePosition(ctx, position); err != nil {
				return err
			}
			if err := writeReservationEvent(ctx, tx, eventType, reservation, position.Version, quantity); err != nil {
				return err
			}
			updated, saved = reservation, position
			return nil
		})
	})
	metrics.Reservations.WithLabelValues(operation, metrics.ResultOf(err)).Inc()
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("reservation_id", id.String()).
		Str("operation", operation).
		Int64("quantity", quantity).
		Str("state", string(updated.State)).
		Msg("Reservation updated")

	s.invalidate(ctx, saved)
	return updated, nil
}

// GetReservation retrieves a reservation by ID
func (s *ReservationService) GetReservation(ctx context.Context, tenantID string, id uuid.UUID) (*models.Reservation, error) {
	reservation, err := s.store.GetReservation(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	if reservation == nil {
		return nil, models.NewNotFoundError("reservation", id.String())
	}
	return reservation, nil
}

// ListReservations lists reservations matching the filter
func (s *ReservationService) ListReservations(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error) {
	if filter.TenantID == "" {
		return nil, models.NewValidationError("tenant_id", "tenant is required", nil)
	}
	return s.store.ListReservations(ctx, filter)
}

func writeReservationEvent(ctx context.Context, tx interfaces.Tx, eventType string, r *models.Reservation, positionVersion, quantity int64) error {
	id := r.ID
	event := &models.EngineEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		TenantID:      r.TenantID,
		ProductID:     r.ProductID,
		WarehouseID:   r.WarehouseID,
		ReservationID: &id,
		Quantity:      quantity,
		Version:       positionVersion,
		State:         string(r.State),
		Timestamp:     time.Now().UTC(),
		Attributes:    map[string]string{"event_id": r.EventID},
	}
	return tx.CreateOutboxEvent(ctx, eventType, event.PartitionKey(), event)
}
