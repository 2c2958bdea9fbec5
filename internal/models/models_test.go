package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveReservationState(t *testing.T) {
	tests := []struct {
		name      string
		reserved  int64
		delivered int64
		returned  int64
		cancelled bool
		want      ReservationState
	}{
		{"nothing delivered", 10, 0, 0, false, ReservationStateActive},
		{"some delivered", 10, 4, 0, false, ReservationStatePartial},
		{"partial with returns stays partial", 10, 4, 4, false, ReservationStatePartial},
		{"fully delivered", 10, 10, 3, false, ReservationStateDelivered},
		{"all returned", 10, 10, 10, false, ReservationStateReturned},
		{"cancelled wins", 10, 0, 0, true, ReservationStateCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveReservationState(tt.reserved, tt.delivered, tt.returned, tt.cancelled))
		})
	}
}

func TestReservation_Outstanding(t *testing.T) {
	r := &Reservation{ID: uuid.New(), QuantityReserved: 10, QuantityDelivered: 10, QuantityReturned: 3}
	r.Refresh()
	assert.Equal(t, ReservationStateDelivered, r.State)
	assert.Equal(t, int64(7), r.Outstanding())

	r.QuantityReturned = 10
	r.Refresh()
	assert.Equal(t, int64(0), r.Outstanding())

	cancelled := &Reservation{QuantityReserved: 5, Cancelled: true}
	cancelled.Refresh()
	assert.Equal(t, int64(0), cancelled.Outstanding())
}

func TestReservation_CheckInvariants(t *testing.T) {
	r := &Reservation{ID: uuid.New(), QuantityReserved: 5, QuantityDelivered: 5, QuantityReturned: 2}
	require.NoError(t, r.CheckInvariants())

	r.QuantityDelivered = 6
	assert.Error(t, r.CheckInvariants())

	r.QuantityDelivered = 1
	assert.Error(t, r.CheckInvariants(), "returned above delivered")
}

func TestCountLine_Record(t *testing.T) {
	line := &CountLine{QuantitySystem: 20}
	assert.False(t, line.Counted())
	assert.Equal(t, int64(0), line.Difference())

	line.Record(17, time.Now())
	require.True(t, line.Counted())
	assert.Equal(t, int64(-3), line.Difference())
	require.NotNil(t, line.DifferenceStored)
	assert.Equal(t, int64(-3), *line.DifferenceStored)

	line.Record(25, time.Now())
	assert.Equal(t, int64(5), line.Difference())
}

func TestPositionKey_String(t *testing.T) {
	key := PositionKey{TenantID: "t1", ProductID: "chair", WarehouseID: "main"}
	assert.Equal(t, "t1:chair:main", key.String())
}

func TestEngineEvent_PartitionKey(t *testing.T) {
	positional := &EngineEvent{TenantID: "t1", ProductID: "chair", WarehouseID: "main"}
	assert.Equal(t, "t1:chair:main", positional.PartitionKey())

	sessionEvent := &EngineEvent{TenantID: "t1", WarehouseID: "main"}
	_, ok := sessionEvent.PositionKey()
	assert.False(t, ok)
	assert.Equal(t, "t1", sessionEvent.PartitionKey())
}

func TestGetErrorCode(t *testing.T) {
	key := PositionKey{TenantID: "t1", ProductID: "p", WarehouseID: "w"}
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{nil, ""},
		{NewValidationError("actor", "required", nil), ErrorCodeValidationError},
		{NewInvalidQuantity("quantity", 0, "must be positive"), ErrorCodeInvalidQuantity},
		{&InvalidHeadcountError{Headcount: 0}, ErrorCodeInvalidHeadcount},
		{&InsufficientStockError{Key: key, Requested: 5, Available: 2}, ErrorCodeInsufficientStock},
		{&NegativeStockError{Key: key, OnHand: 1, Delta: -2}, ErrorCodeNegativeStock},
		{NewInvalidTransition("reservation", "id", "delivered", "cancel"), ErrorCodeInvalidStateTransition},
		{NewContentionError("position", nil), ErrorCodeContention},
		{NewNotFoundError("kit", "k1"), ErrorCodeNotFound},
		{fmt.Errorf("boom"), ErrorCodeInternalError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, GetErrorCode(tt.err), "%v", tt.err)
	}
}

func TestErrorGuards_LookThroughWrapping(t *testing.T) {
	err := fmt.Errorf("reserve failed: %w", &InsufficientStockError{Requested: 3, Available: 1})
	assert.True(t, IsInsufficientStock(err))
	assert.False(t, IsContention(err))

	cause := fmt.Errorf("lock wait timeout")
	contention := NewContentionError("position", cause)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", contention), cause)
}

func TestInvalidStateTransitionError_Reason(t *testing.T) {
	err := &InvalidStateTransitionError{Entity: "count_session", ID: "s1", From: "in_progress", Operation: "complete", Reason: "2 of 5 lines not counted"}
	assert.Equal(t, "cannot complete count_session s1 in state in_progress: 2 of 5 lines not counted", err.Error())
}

func TestNewItemFailure_CarriesCodeAndAvailable(t *testing.T) {
	short := NewItemFailure("table", fmt.Errorf("reserve: %w", &InsufficientStockError{Requested: 10, Available: 4}))
	assert.Equal(t, string(ErrorCodeInsufficientStock), short.Code)
	require.NotNil(t, short.Available)
	assert.Equal(t, int64(4), *short.Available)
	assert.NotEmpty(t, short.Message)

	busy := NewItemFailure("chair", NewContentionError("position", nil))
	assert.Equal(t, string(ErrorCodeContention), busy.Code)
	assert.Nil(t, busy.Available)
}
