package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-engine/internal/models"
)

func TestReservation_Lifecycle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.stock(t, "chair", 20)

	r := e.reserve(t, "chair", 10)
	assert.Equal(t, models.ReservationStateActive, r.State)
	assert.Equal(t, int64(10), e.available(t, "chair"))

	r, err := e.reservations.Deliver(ctx, testTenant, r.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatePartial, r.State)

	r, err = e.reservations.Deliver(ctx, testTenant, r.ID, 6)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStateDelivered, r.State)
	assert.Equal(t, int64(10), e.available(t, "chair"), "delivery is bookkeeping only")

	r, err = e.reservations.ReturnStock(ctx, testTenant, r.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStateDelivered, r.State)
	assert.Equal(t, int64(13), e.available(t, "chair"))

	r, err = e.reservations.ReturnStock(ctx, testTenant, r.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStateReturned, r.State)
	assert.Equal(t, int64(20), e.available(t, "chair"))

	onHand, err := e.ledger.GetOnHand(ctx, testKey("chair"))
	require.NoError(t, err)
	assert.Equal(t, int64(20), onHand, "reservations never touch the ledger")
}

func TestReservation_InsufficientStockReportsAvailable(t *testing.T) {
	e := newTestEngine(t)
	e.stock(t, "chair", 5)
	e.reserve(t, "chair", 3)

	_, err := e.reservations.Reserve(context.Background(), testTenant, reserveInput("chair", 4))
	require.Error(t, err)

	var insufficient *models.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(4), insufficient.Requested)
	assert.Equal(t, int64(2), insufficient.Available)
}

func TestReservation_CancelReleasesStock(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.stock(t, "chair", 5)
	r := e.reserve(t, "chair", 5)
	assert.Equal(t, int64(0), e.available(t, "chair"))

	r, err := e.reservations.Cancel(ctx, testTenant, r.ID, "event cancelled")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStateCancelled, r.State)
	assert.Equal(t, "event cancelled", r.CancelReason)
	assert.Equal(t, int64(5), e.available(t, "chair"))

	_, err = e.reservations.Cancel(ctx, testTenant, r.ID, "again")
	assert.True(t, models.IsInvalidTransition(err))
}

func TestReservation_TransitionsBumpPositionVersion(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	key := testKey("chair")
	e.stock(t, "chair", 6)

	version := func() int64 {
		p, err := e.store.GetPosition(ctx, key)
		require.NoError(t, err)
		return p.Version
	}
	require.Equal(t, int64(1), version())

	r1 := e.reserve(t, "chair", 4)
	r2 := e.reserve(t, "chair", 1)
	assert.Equal(t, int64(3), version())

	_, err := e.reservations.Deliver(ctx, testTenant, r1.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), version())
	_, err = e.reservations.ReturnStock(ctx, testTenant, r1.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), version())
	_, err = e.reservations.Cancel(ctx, testTenant, r2.ID, "smaller party")
	require.NoError(t, err)
	assert.Equal(t, int64(6), version())

	// outbox order matches position order
	var versions []int64
	for _, row := range e.store.OutboxEvents() {
		var event models.EngineEvent
		require.NoError(t, json.Unmarshal([]byte(row.Payload), &event))
		if k, ok := event.PositionKey(); ok && k == key {
			versions = append(versions, event.Version)
		}
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, versions)
}

func TestReservation_CancelAfterDeliveryFails(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.stock(t, "chair", 5)
	r := e.reserve(t, "chair", 5)

	_, err := e.reservations.Deliver(ctx, testTenant, r.ID, 1)
	require.NoError(t, err)

	_, err = e.reservations.Cancel(ctx, testTenant, r.ID, "too late")
	require.Error(t, err)
	assert.True(t, models.IsInvalidTransition(err))

	got, err := e.reservations.GetReservation(ctx, testTenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatePartial, got.State)
}

func TestReservation_QuantityBounds(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.stock(t, "chair", 5)
	r := e.reserve(t, "chair", 5)

	_, err := e.reservations.Deliver(ctx, testTenant, r.ID, 6)
	assert.True(t, models.IsInvalidQuantity(err))

	_, err = e.reservations.Deliver(ctx, testTenant, r.ID, 0)
	assert.True(t, models.IsInvalidQuantity(err))

	_, err = e.reservations.ReturnStock(ctx, testTenant, r.ID, 1)
	assert.True(t, models.IsInvalidTransition(err), "nothing delivered yet")

	_, err = e.reservations.Deliver(ctx, testTenant, r.ID, 2)
	require.NoError(t, err)
	_, err = e.reservations.ReturnStock(ctx, testTenant, r.ID, 3)
	assert.True(t, models.IsInvalidQuantity(err))
}

func TestReservation_Validation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.reservations.Reserve(ctx, testTenant, reserveInput("chair", 0))
	assert.True(t, models.IsInvalidQuantity(err))

	input := reserveInput("chair", 1)
	input.EventID = ""
	_, err = e.reservations.Reserve(ctx, testTenant, input)
	assert.True(t, models.IsValidationError(err))

	input = reserveInput("chair", 1)
	early := input.NeedDate.Add(-24 * time.Hour)
	input.ExpectedReturnDate = &early
	_, err = e.reservations.Reserve(ctx, testTenant, input)
	assert.True(t, models.IsValidationError(err))

	_, err = e.reservations.Reserve(ctx, "", reserveInput("chair", 1))
	assert.True(t, models.IsValidationError(err))
}

func TestReservation_TenantIsolation(t *testing.T) {
	e := newTestEngine(t)
	e.stock(t, "chair", 5)
	r := e.reserve(t, "chair", 1)

	_, err := e.reservations.GetReservation(context.Background(), "other-tenant", r.ID)
	assert.True(t, models.IsNotFoundError(err))

	_, err = e.reservations.Deliver(context.Background(), "other-tenant", r.ID, 1)
	assert.True(t, models.IsNotFoundError(err))

	_, err = e.reservations.Cancel(context.Background(), testTenant, uuid.New(), "missing")
	assert.True(t, models.IsNotFoundError(err))
}

func TestReservation_ConcurrentReserveNeverOversells(t *testing.T) {
	e := newTestEngine(t)
	e.stock(t, "chair", 5)

	const workers = 20
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.reservations.Reserve(context.Background(), testTenant, reserveInput("chair", 1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case models.IsInsufficientStock(err):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, workers-5, insufficient)
	assert.Equal(t, int64(0), e.available(t, "chair"))
}

func TestReservation_ListFilters(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.stock(t, "chair", 10)
	e.stock(t, "table", 10)

	e.reserve(t, "chair", 1)
	r := e.reserve(t, "table", 2)
	_, err := e.reservations.Cancel(ctx, testTenant, r.ID, "not needed")
	require.NoError(t, err)

	all, err := e.reservations.ListReservations(ctx, models.ReservationFilter{TenantID: testTenant, EventID: "wedding-42"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := e.reservations.ListReservations(ctx, models.ReservationFilter{
		TenantID: testTenant,
		States:   []models.ReservationState{models.ReservationStateActive},
	})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "chair", active[0].ProductID)

	_, err = e.reservations.ListReservations(ctx, models.ReservationFilter{})
	assert.True(t, models.IsValidationError(err))
}
