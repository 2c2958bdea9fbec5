package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"

	"inventory-engine/internal/models"
)

// StockLedger is the only entry point that mutates quantity on hand
type StockLedger interface {
	GetOnHand(ctx context.Context, key models.PositionKey) (int64, error)
	Adjust(ctx context.Context, key models.PositionKey, delta int64, reason models.MovementReason, opts AdjustOptions) (int64, error)
	ListMovements(ctx context.Context, key models.PositionKey, limit int) ([]models.Movement, error)
}

// AdjustOptions carries the audit context of an adjustment
type AdjustOptions struct {
	Actor         string
	Note          string
	ReferenceType string
	ReferenceID   string
}

// AvailabilityQuery computes available = on hand - outstanding reservations
type AvailabilityQuery interface {
	GetAvailability(ctx context.Context, key models.PositionKey) (*models.Availability, error)
}

// ReservationManager defines the reservation lifecycle operations
type ReservationManager interface {
	Reserve(ctx context.Context, tenantID string, req ReserveInput) (*models.Reservation, error)
	Deliver(ctx context.Context, tenantID string, id uuid.UUID, quantity int64) (*models.Reservation, error)
	ReturnStock(ctx context.Context, tenantID string, id uuid.UUID, quantity int64) (*models.Reservation, error)
	Cancel(ctx context.Context, tenantID string, id uuid.UUID, reason string) (*models.Reservation, error)
	GetReservation(ctx context.Context, tenantID string, id uuid.UUID) (*models.Reservation, error)
	ListReservations(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error)
}

// ReserveInput holds the fields of a new reservation
type ReserveInput struct {
	EventID            string
	ProductID          string
	WarehouseID        string
	Quantity           int64
	NeedDate           time.Time
	ExpectedReturnDate *time.Time
	Notes              string
}

// KitExpander expands kit templates into needs and reservations
type KitExpander interface {
	ComputeNeeds(ctx context.Context, tenantID, kitID string, headcount int64) ([]models.KitNeed, error)
	CheckAvailability(ctx context.Context, tenantID, kitID string, headcount int64, warehouseID string) (*models.KitAvailability, error)
	ApplyKit(ctx context.Context, tenantID string, req ApplyKitInput) (*models.KitApplication, error)
}

// ApplyKitInput holds the fields of a kit application
type ApplyKitInput struct {
	EventID            string
	KitID              string
	Headcount          int64
	WarehouseID        string
	NeedDate           time.Time
	ExpectedReturnDate *time.Time
}

// CountReconciler defines the physical count lifecycle operations
type CountReconciler interface {
	CreateSession(ctx context.Context, tenantID, warehouseID string, kind models.CountKind, productFilter []string) (*models.CountSession, error)
	GenerateLines(ctx context.Context, tenantID string, sessionID uuid.UUID) (int, error)
	Start(ctx context.Context, tenantID string, sessionID uuid.UUID) (*models.CountSession, error)
	RecordCount(ctx context.Context, tenantID string, lineID uuid.UUID, counted int64) (*models.CountLine, error)
	Complete(ctx context.Context, tenantID string, sessionID uuid.UUID) (*models.CountSummary, error)
	Summarize(ctx context.Context, tenantID string, sessionID uuid.UUID) (*models.CountSummary, error)
	ApplyAdjustments(ctx context.Context, tenantID string, sessionID uuid.UUID, actor string) (*models.AdjustmentResult, error)
	Cancel(ctx context.Context, tenantID string, sessionID uuid.UUID) (*models.CountSession, error)
	GetSession(ctx context.Context, tenantID string, sessionID uuid.UUID) (*models.CountSession, error)
	ListLines(ctx context.Context, tenantID string, sessionID uuid.UUID) ([]models.CountLine, error)
}
