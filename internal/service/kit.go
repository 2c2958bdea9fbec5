package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/metrics"
	"inventory-engine/internal/models"
)

// KitService expands kit templates by headcount and applies them as reservations
type KitService struct {
	kits         interfaces.KitRepository
	availability interfaces.AvailabilityQuery
	reservations interfaces.ReservationManager
}

var _ interfaces.KitExpander = (*KitService)(nil)

// NewKitService creates a new kit expander
func NewKitService(kits interfaces.KitRepository, availability interfaces.AvailabilityQuery, reservations interfaces.ReservationManager) *KitService {
	return &KitService{kits: kits, availability: availability, reservations: reservations}
}

// ExpandKit computes max(ceil(qty_per_person * headcount), qty_minimum) per line
func ExpandKit(kit *models.Kit, headcount int64) []models.KitNeed {
	persons := decimal.NewFromInt(headcount)
	needs := make([]models.KitNeed, 0, len(kit.Lines))
	for _, line := range kit.Lines {
		quantity := line.QtyPerPerson.Mul(persons).Ceil().IntPart()
		if line.QtyMinimum != nil && *line.QtyMinimum > quantity {
			quantity = *line.QtyMinimum
		}
		needs = append(needs, models.KitNeed{ProductID: line.ProductID, Quantity: quantity})
	}
	return needs
}

// ComputeNeeds returns the quantities a kit requires for headcount persons
func (s *KitService) ComputeNeeds(ctx context.Context, tenantID, kitID string, headcount int64) ([]models.KitNeed, error) {
	if headcount <= 0 {
		return nil, &models.InvalidHeadcountError{Headcount: headcount}
	}
	kit, err := s.kits.GetKit(ctx, tenantID, kitID)
	if err != nil {
		return nil, fmt.Errorf("failed to get kit: %w", err)
	}
	if kit == nil {
		return nil, models.NewNotFoundError("kit", kitID)
	}
	return ExpandKit(kit, headcount), nil
}

// CheckAvailability compares every need with what warehouseID can offer
func (s *KitService) CheckAvailability(ctx context.Context, tenantID, kitID string, headcount int64, warehouseID string) (*models.KitAvailability, error) {
	if warehouseID == "" {
		return nil, models.NewValidationError("warehouse_id", "warehouse is required", nil)
	}
	needs, err := s.ComputeNeeds(ctx, tenantID, kitID, headcount)
	if err != nil {
		return nil, err
	}

	result := &models.KitAvailability{Available: true, Lines: make([]models.KitAvailabilityLine, 0, len(needs))}
	for _, need := range needs {
		key := models.PositionKey{TenantID: tenantID, ProductID: need.ProductID, WarehouseID: warehouseID}
		availability, err := s.availability.GetAvailability(ctx, key)
		if err != nil {
			return nil, err
		}
		shortfall := max(need.Quantity-availability.Available, 0)
		if shortfall > 0 {
			result.Available = false
		}
		result.Lines = append(result.Lines, models.KitAvailabilityLine{
			ProductID: need.ProductID,
			Needed:    need.Quantity,
			Available: availability.Available,
			Shortfall: shortfall,
		})
	}
	return result, nil
}

// ApplyKit reserves every need independently. Failures are collected per
// product and never undo the reservations that succeeded.
func (s *KitService) ApplyKit(ctx context.Context, tenantID string, req interfaces.ApplyKitInput) (*models.KitApplication, error) {
	if req.WarehouseID == "" {
		return nil, models.NewValidationError("warehouse_id", "warehouse is required", nil)
	}
	needs, err := s.ComputeNeeds(ctx, tenantID, req.KitID, req.Headcount)
	if err != nil {
		return nil, err
	}

	result := &models.KitApplication{
		Reservations: []*models.Reservation{},
		Failures:     []models.ItemFailure{},
	}
	for _, need := range needs {
		if need.Quantity == 0 {
			metrics.KitLines.WithLabelValues("skipped").Inc()
			continue
		}
		reservation, err := s.reservations.Reserve(ctx, tenantID, interfaces.ReserveInput{
			EventID:            req.EventID,
			ProductID:          need.ProductID,
			WarehouseID:        req.WarehouseID,
			Quantity:           need.Quantity,
			NeedDate:           req.NeedDate,
			ExpectedReturnDate: req.ExpectedReturnDate,
			Notes:              fmt.Sprintf("kit %s for %d persons", req.KitID, req.Headcount),
		})
		if err != nil {
			metrics.KitLines.WithLabelValues("failed").Inc()
			log.Warn().Err(err).
				Str("kit_id", req.KitID).
				Str("product_id", need.ProductID).
				Int64("quantity", need.Quantity).
				Msg("Kit line not reserved")
			result.Failures = append(result.Failures, models.NewItemFailure(need.ProductID, err))
			continue
		}
		metrics.KitLines.WithLabelValues("reserved").Inc()
		result.Reservations = append(result.Reservations, reservation)
	}
	result.Created = len(result.Reservations)

	log.Info().
		Str("kit_id", req.KitID).
		Str("event_id", req.EventID).
		Int("created", result.Created).
		Int("failed", len(result.Failures)).
		Msg("Kit applied")

	return result, nil
}
