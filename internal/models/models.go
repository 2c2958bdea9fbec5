package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReservationState represents the lifecycle state of a reservation.
// It is always derived from the quantity counters, never set directly.
type ReservationState string

const (
	ReservationStateActive    ReservationState = "active"
	ReservationStatePartial   ReservationState = "partial"
	ReservationStateDelivered ReservationState = "delivered"
	ReservationStateReturned  ReservationState = "returned"
	ReservationStateCancelled ReservationState = "cancelled"
)

// OutstandingStates are the states whose units still count against availability.
var OutstandingStates = []ReservationState{
	ReservationStateActive,
	ReservationStatePartial,
	ReservationStateDelivered,
}

// MovementReason classifies every ledger mutation for audit.
type MovementReason string

const (
	ReasonDelivery        MovementReason = "delivery"
	ReasonReturn          MovementReason = "return"
	ReasonCountAdjustment MovementReason = "count_adjustment"
	ReasonManual          MovementReason = "manual"
)

// Valid reports whether r is one of the known reasons.
func (r MovementReason) Valid() bool {
	switch r {
	case ReasonDelivery, ReasonReturn, ReasonCountAdjustment, ReasonManual:
		return true
	}
	return false
}

// CountKind is the kind of a physical count session.
type CountKind string

const (
	CountKindComplete CountKind = "complete"
	CountKindPartial  CountKind = "partial"
	CountKindCyclic   CountKind = "cyclic"
	CountKindRandom   CountKind = "random"
)

// Valid reports whether k is one of the known count kinds.
func (k CountKind) Valid() bool {
	switch k {
	case CountKindComplete, CountKindPartial, CountKindCyclic, CountKindRandom:
		return true
	}
	return false
}

// CountSessionState represents the lifecycle state of a count session.
type CountSessionState string

const (
	CountStateScheduled  CountSessionState = "scheduled"
	CountStateInProgress CountSessionState = "in_progress"
	CountStateCompleted  CountSessionState = "completed"
	CountStateCancelled  CountSessionState = "cancelled"
)

// AllWarehouses is the warehouse scope of a count session covering every warehouse.
const AllWarehouses = ""

// PositionKey identifies one stock position. All locking is scoped to it.
type PositionKey struct {
	TenantID    string `json:"tenant_id"`
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id"`
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.TenantID, k.ProductID, k.WarehouseID)
}

// StockPosition is the authoritative quantity on hand for a key.
type StockPosition struct {
	TenantID       string    `db:"tenant_id" json:"tenant_id"`
	ProductID      string    `db:"product_id" json:"product_id"`
	WarehouseID    string    `db:"warehouse_id" json:"warehouse_id"`
	QuantityOnHand int64     `db:"quantity_on_hand" json:"quantity_on_hand"`
	Version        int64     `db:"version" json:"version"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Key returns the position key.
func (p StockPosition) Key() PositionKey {
	return PositionKey{TenantID: p.TenantID, ProductID: p.ProductID, WarehouseID: p.WarehouseID}
}

// Movement is an immutable journal record written for every ledger adjustment.
type Movement struct {
	ID             int64          `db:"id" json:"id"`
	TenantID       string         `db:"tenant_id" json:"tenant_id"`
	ProductID      string         `db:"product_id" json:"product_id"`
	WarehouseID    string         `db:"warehouse_id" json:"warehouse_id"`
	Delta          int64          `db:"delta" json:"delta"`
	QuantityBefore int64          `db:"quantity_before" json:"quantity_before"`
	QuantityAfter  int64          `db:"quantity_after" json:"quantity_after"`
	Reason         MovementReason `db:"reason" json:"reason"`
	ReferenceType  *string        `db:"reference_type" json:"reference_type,omitempty"`
	ReferenceID    *string        `db:"reference_id" json:"reference_id,omitempty"`
	Actor          string         `db:"actor" json:"actor"`
	Note           string         `db:"note" json:"note"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// Reservation earmarks stock of one position for an event.
type Reservation struct {
	ID                 uuid.UUID        `db:"id" json:"id"`
	TenantID           string           `db:"tenant_id" json:"tenant_id"`
	EventID            string           `db:"event_id" json:"event_id"`
	ProductID          string           `db:"product_id" json:"product_id"`
	WarehouseID        string           `db:"warehouse_id" json:"warehouse_id"`
	QuantityReserved   int64            `db:"quantity_reserved" json:"quantity_reserved"`
	QuantityDelivered  int64            `db:"quantity_delivered" json:"quantity_delivered"`
	QuantityReturned   int64            `db:"quantity_returned" json:"quantity_returned"`
	NeedDate           time.Time        `db:"need_date" json:"need_date"`
	ExpectedReturnDate *time.Time       `db:"expected_return_date" json:"expected_return_date,omitempty"`
	State              ReservationState `db:"state" json:"state"`
	Cancelled          bool             `db:"cancelled" json:"-"`
	CancelReason       string           `db:"cancel_reason" json:"cancel_reason,omitempty"`
	Notes              string           `db:"notes" json:"notes"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
}

// Key returns the stock position the reservation draws on.
func (r *Reservation) Key() PositionKey {
	return PositionKey{TenantID: r.TenantID, ProductID: r.ProductID, WarehouseID: r.WarehouseID}
}

// Outstanding is the number of units still held against availability.
func (r *Reservation) Outstanding() int64 {
	if !r.State.IsOutstanding() {
		return 0
	}
	return r.QuantityReserved - r.QuantityReturned
}

// Refresh recomputes the stored state from the counters.
func (r *Reservation) Refresh() {
	r.State = DeriveReservationState(r.QuantityReserved, r.QuantityDelivered, r.QuantityReturned, r.Cancelled)
}

// CheckInvariants verifies the quantity ordering that must hold after every mutation.
func (r *Reservation) CheckInvariants() error {
	if r.QuantityDelivered < 0 || r.QuantityDelivered > r.QuantityReserved {
		return fmt.Errorf("reservation %s: delivered %d outside [0, %d]", r.ID, r.QuantityDelivered, r.QuantityReserved)
	}
	if r.QuantityReturned < 0 || r.QuantityReturned > r.QuantityDelivered {
		return fmt.Errorf("reservation %s: returned %d outside [0, %d]", r.ID, r.QuantityReturned, r.QuantityDelivered)
	}
	return nil
}

// IsOutstanding reports whether the state counts against availability.
func (s ReservationState) IsOutstanding() bool {
	for _, o := range OutstandingStates {
		if s == o {
			return true
		}
	}
	return false
}

// DeriveReservationState is the single source of truth for a reservation's state.
func DeriveReservationState(reserved, delivered, returned int64, cancelled bool) ReservationState {
	switch {
	case cancelled:
		return ReservationStateCancelled
	case delivered == 0:
		return ReservationStateActive
	case delivered < reserved:
		return ReservationStatePartial
	case returned == delivered:
		return ReservationStateReturned
	default:
		return ReservationStateDelivered
	}
}

// ReservationFilter narrows reservation listings. Empty fields match everything.
type ReservationFilter struct {
	TenantID    string
	EventID     string
	ProductID   string
	WarehouseID string
	States      []ReservationState
}

// Kit is a reusable template of products scaled by headcount.
type Kit struct {
	ID              string        `db:"id" json:"id"`
	TenantID        string        `db:"tenant_id" json:"tenant_id"`
	Name            string        `db:"name" json:"name"`
	EventType       string        `db:"event_type" json:"event_type"`
	CapacityPersons *int64        `db:"capacity_persons" json:"capacity_persons,omitempty"`
	Lines           []KitLineItem `db:"-" json:"lines"`
}

// KitLineItem is one product of a kit.
type KitLineItem struct {
	KitID        string          `db:"kit_id" json:"kit_id"`
	ProductID    string          `db:"product_id" json:"product_id"`
	QtyPerPerson decimal.Decimal `db:"qty_per_person" json:"qty_per_person"`
	QtyMinimum   *int64          `db:"qty_minimum" json:"qty_minimum,omitempty"`
}

// KitNeed is the concrete quantity of one product a kit requires.
type KitNeed struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// KitAvailabilityLine compares one need with what the warehouse can offer.
type KitAvailabilityLine struct {
	ProductID string `json:"product_id"`
	Needed    int64  `json:"needed"`
	Available int64  `json:"available"`
	Shortfall int64  `json:"shortfall"`
}

// KitAvailability is the result of checking a whole kit against one warehouse.
type KitAvailability struct {
	Available bool                  `json:"available"`
	Lines     []KitAvailabilityLine `json:"lines"`
}

// ItemFailure reports a per-product failure of a best-effort batch.
// Available is set only for insufficient stock.
type ItemFailure struct {
	ProductID string `json:"product_id"`
	Error     error  `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"error"`
	Available *int64 `json:"available,omitempty"`
}

// NewItemFailure builds an ItemFailure carrying the typed error, its code and its text.
func NewItemFailure(productID string, err error) ItemFailure {
	failure := ItemFailure{
		ProductID: productID,
		Error:     err,
		Code:      string(GetErrorCode(err)),
		Message:   err.Error(),
	}
	var insufficient *InsufficientStockError
	if errors.As(err, &insufficient) {
		available := insufficient.Available
		failure.Available = &available
	}
	return failure
}

// KitApplication is the outcome of applying a kit to an event.
type KitApplication struct {
	Created      int            `json:"created"`
	Reservations []*Reservation `json:"reservations"`
	Failures     []ItemFailure  `json:"failures"`
}

// CountSession groups the lines of one physical count.
type CountSession struct {
	ID            uuid.UUID         `db:"id" json:"id"`
	TenantID      string            `db:"tenant_id" json:"tenant_id"`
	WarehouseID   string            `db:"warehouse_id" json:"warehouse_id"`
	Kind          CountKind         `db:"kind" json:"kind"`
	State         CountSessionState `db:"state" json:"state"`
	ProductFilter []string          `db:"-" json:"product_filter,omitempty"`
	LinesCount    int               `db:"lines_count" json:"lines_count"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	StartedAt     *time.Time        `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt   *time.Time        `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// CoversAllWarehouses reports whether the session is scoped to every warehouse.
func (s *CountSession) CoversAllWarehouses() bool {
	return s.WarehouseID == AllWarehouses
}

// CountLine is one (product, warehouse) tally within a session.
type CountLine struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	SessionID        uuid.UUID  `db:"session_id" json:"session_id"`
	TenantID         string     `db:"tenant_id" json:"tenant_id"`
	ProductID        string     `db:"product_id" json:"product_id"`
	WarehouseID      string     `db:"warehouse_id" json:"warehouse_id"`
	QuantitySystem   int64      `db:"quantity_system" json:"quantity_system"`
	QuantityCounted  *int64     `db:"quantity_counted" json:"quantity_counted"`
	CountedAt        *time.Time `db:"counted_at" json:"counted_at,omitempty"`
	AppliedAt        *time.Time `db:"applied_at" json:"applied_at,omitempty"`
	AppliedBy        *string    `db:"applied_by" json:"applied_by,omitempty"`
	DifferenceStored *int64     `db:"difference" json:"-"`
}

// Key returns the stock position the line counts.
func (l *CountLine) Key() PositionKey {
	return PositionKey{TenantID: l.TenantID, ProductID: l.ProductID, WarehouseID: l.WarehouseID}
}

// Counted reports whether an operator has recorded a quantity.
func (l *CountLine) Counted() bool {
	return l.QuantityCounted != nil
}

// Difference is counted minus system; zero while the line is uncounted.
func (l *CountLine) Difference() int64 {
	if l.QuantityCounted == nil {
		return 0
	}
	return *l.QuantityCounted - l.QuantitySystem
}

// Record sets the counted quantity and keeps the stored difference in sync.
func (l *CountLine) Record(counted int64, at time.Time) {
	l.QuantityCounted = &counted
	diff := counted - l.QuantitySystem
	l.DifferenceStored = &diff
	l.CountedAt = &at
}

// CountSummary is the frozen report of a completed session.
type CountSummary struct {
	SessionID          uuid.UUID       `json:"session_id"`
	TotalLines         int             `json:"total_lines"`
	CountedLines       int             `json:"counted_lines"`
	LinesWithDiff      int             `json:"lines_with_difference"`
	PositiveUnits      int64           `json:"positive_units"`
	NegativeUnits      int64           `json:"negative_units"`
	PositiveValue      decimal.Decimal `json:"positive_value"`
	NegativeValue      decimal.Decimal `json:"negative_value"`
	NetValue           decimal.Decimal `json:"net_value"`
	UnpricedProductIDs []string        `json:"unpriced_product_ids,omitempty"`
}

// AdjustmentResult is the outcome of applying a completed session to the ledger.
type AdjustmentResult struct {
	Applied        int           `json:"applied"`
	AlreadyApplied int           `json:"already_applied"`
	Errors         []ItemFailure `json:"errors"`
}

// Availability is on hand minus the outstanding reservations of one position.
type Availability struct {
	Key         PositionKey `json:"key"`
	OnHand      int64       `json:"on_hand"`
	Outstanding int64       `json:"outstanding"`
	Available   int64       `json:"available"`
	Version     int64       `json:"version"` // position version the figures were read at
	CacheHit    bool        `json:"cache_hit"`
	ComputedAt  time.Time   `json:"computed_at"`
}

// Product is the catalog view the engine needs.
type Product struct {
	ID       string          `db:"id" json:"id"`
	TenantID string          `db:"tenant_id" json:"tenant_id"`
	Name     string          `db:"name" json:"name"`
	Unit     string          `db:"unit" json:"unit"`
	UnitCost decimal.Decimal `db:"unit_cost" json:"unit_cost"`
}

// Warehouse is the catalog view of a warehouse.
type Warehouse struct {
	ID       string `db:"id" json:"id"`
	TenantID string `db:"tenant_id" json:"tenant_id"`
	Name     string `db:"name" json:"name"`
}
