package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"inventory-engine/internal/models"
)

// startedSession creates, seeds and starts a complete count of the main warehouse
func startedSession(t *testing.T, e *testEngine) (*models.CountSession, []models.CountLine) {
	t.Helper()
	ctx := context.Background()

	session, err := e.counts.CreateSession(ctx, testTenant, "main", models.CountKindComplete, nil)
	require.NoError(t, err)
	_, err = e.counts.GenerateLines(ctx, testTenant, session.ID)
	require.NoError(t, err)
	session, err = e.counts.Start(ctx, testTenant, session.ID)
	require.NoError(t, err)

	lines, err := e.counts.ListLines(ctx, testTenant, session.ID)
	require.NoError(t, err)
	return session, lines
}

func lineFor(t *testing.T, lines []models.CountLine, product string) models.CountLine {
	t.Helper()
	for _, l := range lines {
		if l.ProductID == product {
			return l
		}
	}
	t.Fatalf("no line for %s", product)
	return models.CountLine{}
}

func TestCount_RoundTripAppliesDifference(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.stock(t, "chair", 20)

	session, lines := startedSession(t, e)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(20), lines[0].QuantitySystem)

	_, err := e.counts.RecordCount(ctx, testTenant, lines[0].ID, 17)
	require.NoError(t, err)

	summary, err := e.counts.Complete(ctx, testTenant, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LinesWithDiff)
	assert.Equal(t, int64(3), summary.NegativeUnits)

	result, err := e.counts.ApplyAdjustments(ctx, testTenant, session.ID, "auditor")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 0, result.AlreadyApplied)
	assert.Empty(t, result.Errors)

	onHand, err := e.ledger.GetOnHand(ctx, testKey("chair"))
	require.NoError(t, err)
	assert.Equal(t, int64(17), onHand)

	movements, err := e.ledger.ListMovements(ctx, testKey("chair"), 1)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, models.ReasonCountAdjustment, movements[0].Reason)
	assert.Equal(t, int64(-3), movements[0].Delta)
	require.NotNil(t, movements[0].ReferenceID)
	assert.Equal(t, session.ID.String(), *movements[0].ReferenceID)

	again, err := e.counts.ApplyAdjustments(ctx, testTenant, session.ID, "auditor")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Applied)
	assert.Equal(t, 1, again.AlreadyApplied)

	onHand, err = e.ledger.GetOnHand(ctx, testKey("chair"))
	require.NoError(t, err)
	assert.Equal(t, int64(17), onHand, "applying twice changes nothing")
}

func TestCount_CompleteRequiresEveryLineCounted(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.stock(t, "chair", 20)
	e.stock(t, "table", 5)

	session, lines := startedSession(t, e)
	require.Len(t, lines, 2)

	_, err := e.counts.RecordCount(ctx, testTenant, lineFor(t, lines, "chair").ID, 20)
	require.NoError(t, err)

	_, err = e.counts.Complete(ctx, testTenant, session.ID)
	require.Error(t, err)
	var transitionErr *models.InvalidStateTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, "1 of 2 lines not counted", transitionErr.Reason)

	got, err := e.counts.GetSession(ctx, testTenant, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CountStateInProgress, got.State)
}

func TestCount_StateMachine(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	empty, err := e.counts.CreateSession(ctx, testTenant, "main", models.CountKindComplete, nil)
	require.NoError(t, err)
	_, err = e.counts.Start(ctx, testTenant, empty.ID)
	assert.True(t, models.IsInvalidTransition(err), "cannot start without lines")

	e.stock(t, "chair", 4)
	session, lines := startedSession(t, e)

	_, err = e.counts.GenerateLines(ctx, testTenant, session.ID)
	assert.True(t, models.IsInvalidTransition(err), "lines only generated while scheduled")

	_, err = e.counts.ApplyAdjustments(ctx, testTenant, session.ID, "auditor")
	assert.True(t, models.IsInvalidTransition(err), "apply needs a completed session")

	cancelled, err := e.counts.Cancel(ctx, testTenant, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CountStateCancelled, cancelled.State)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = e.counts.RecordCount(ctx, testTenant, lines[0].ID, 3)
	assert.True(t, models.IsInvalidTransition(err))

	_, err = e.counts.Cancel(ctx, testTenant, session.ID)
	assert.True(t, models.IsInvalidTransition(err))

	onHand, err := e.ledger.GetOnHand(ctx, testKey("chair"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), onHand, "cancel never touches the ledger")
}

func TestCount_GenerateLinesTwiceFails(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.stock(t, "chair", 4)

	session, err := e.counts.CreateSession(ctx, testTenant, "main", models.CountKindCyclic, nil)
	require.NoError(t, err)
	n, err := e.counts.GenerateLines(ctx, testTenant, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.counts.GenerateLines(ctx, testTenant, session.ID)
	var transitionErr *models.InvalidStateTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, "lines already generated", transitionErr.Reason)
}

func TestCount_PartialCountScopesLines(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.stock(t, "chair", 4)
	e.stock(t, "table", 2)

	_, err := e.counts.CreateSession(ctx, testTenant, "main", models.CountKindPartial, nil)
	assert.True(t, models.IsValidationError(err), "a partial count needs products")

	session, err := e.counts.CreateSession(ctx, testTenant, "main", models.CountKindPartial, []string{"table", "lamp", "table"})
	require.NoError(t, err)
	assert.Equal(t, []string{"table", "lamp"}, session.ProductFilter)

	n, err := e.counts.GenerateLines(ctx, testTenant, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines, err := e.counts.ListLines(ctx, testTenant, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), lineFor(t, lines, "table").QuantitySystem)
	assert.Equal(t, int64(0), lineFor(t, lines, "lamp").QuantitySystem, "unknown products get a zero snapshot")
}

func TestCount_AllWarehouses(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.stock(t, "chair", 4)
	_, err := e.ledger.Adjust(ctx, models.PositionKey{TenantID: testTenant, ProductID: "chair", WarehouseID: "north"}, 6, models.ReasonManual, adjustBy("setup"))
	require.NoError(t, err)

	session, err := e.counts.CreateSession(ctx, testTenant, models.AllWarehouses, models.CountKindComplete, nil)
	require.NoError(t, err)
	n, err := e.counts.GenerateLines(ctx, testTenant, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCount_SummaryValues(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.store.PutProduct(models.Product{ID: "chair", TenantID: testTenant, Name: "Chair", UnitCost: dec("12.50")})
	e.store.PutProduct(models.Product{ID: "table", TenantID: testTenant, Name: "Table", UnitCost: dec("80")})
	e.stock(t, "chair", 20)
	e.stock(t, "table", 5)
	e.stock(t, "lamp", 2)

	session, lines := startedSession(t, e)
	require.Len(t, lines, 3)
	for product, counted := range map[string]int64{"chair": 23, "table": 4, "lamp": 1} {
		_, err := e.counts.RecordCount(ctx, testTenant, lineFor(t, lines, product).ID, counted)
		require.NoError(t, err)
	}

	summary, err := e.counts.Complete(ctx, testTenant, session.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalLines)
	assert.Equal(t, 3, summary.CountedLines)
	assert.Equal(t, 3, summary.LinesWithDiff)
	assert.Equal(t, int64(3), summary.PositiveUnits)
	assert.Equal(t, int64(2), summary.NegativeUnits)
	assert.True(t, dec("37.5").Equal(summary.PositiveValue), summary.PositiveValue.String())
	assert.True(t, dec("80").Equal(summary.NegativeValue), summary.NegativeValue.String())
	assert.True(t, dec("-42.5").Equal(summary.NetValue), summary.NetValue.String())
	assert.Equal(t, []string{"lamp"}, summary.UnpricedProductIDs)

	again, err := e.counts.Summarize(ctx, testTenant, session.ID)
	require.NoError(t, err)
	assert.True(t, summary.NetValue.Equal(again.NetValue))
}

func TestCount_ApplyRetriesOnlyFailedLines(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.stock(t, "chair", 10)
	e.stock(t, "table", 5)

	session, lines := startedSession(t, e)
	_, err := e.counts.RecordCount(ctx, testTenant, lineFor(t, lines, "chair").ID, 8)
	require.NoError(t, err)
	_, err = e.counts.RecordCount(ctx, testTenant, lineFor(t, lines, "table").ID, 1)
	require.NoError(t, err)
	_, err = e.counts.Complete(ctx, testTenant, session.ID)
	require.NoError(t, err)

	// stock moves between count and apply so the table line would go negative
	_, err = e.ledger.Adjust(ctx, testKey("table"), -5, models.ReasonManual, adjustBy("clerk"))
	require.NoError(t, err)

	result, err := e.counts.ApplyAdjustments(ctx, testTenant, session.ID, "auditor")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "table", result.Errors[0].ProductID)
	assert.True(t, models.IsNegativeStock(result.Errors[0].Error))

	_, err = e.ledger.Adjust(ctx, testKey("table"), 5, models.ReasonManual, adjustBy("clerk"))
	require.NoError(t, err)

	retry, err := e.counts.ApplyAdjustments(ctx, testTenant, session.ID, "auditor")
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Applied)
	assert.Equal(t, 1, retry.AlreadyApplied)
	assert.Empty(t, retry.Errors)

	onHand, err := e.ledger.GetOnHand(ctx, testKey("table"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), onHand)
}

func TestCount_RecordValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.counts.RecordCount(ctx, testTenant, uuid.New(), -1)
	assert.True(t, models.IsInvalidQuantity(err))

	_, err = e.counts.RecordCount(ctx, testTenant, uuid.New(), 1)
	assert.True(t, models.IsNotFoundError(err))
}

func TestCount_SummaryUsesCachedProduct(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.stock(t, "chair", 2)

	cache := new(MockCacheRepository)
	cache.On("GetProduct", mock.Anything, testTenant, "chair").
		Return(&models.Product{ID: "chair", TenantID: testTenant, UnitCost: dec("3")}, nil)
	cache.On("InvalidateAvailability", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	counts, err := NewCountService(e.store, e.ledger, e.store, cache, testConfig())
	require.NoError(t, err)

	session, err := counts.CreateSession(ctx, testTenant, "main", models.CountKindComplete, nil)
	require.NoError(t, err)
	_, err = counts.GenerateLines(ctx, testTenant, session.ID)
	require.NoError(t, err)
	_, err = counts.Start(ctx, testTenant, session.ID)
	require.NoError(t, err)
	lines, err := counts.ListLines(ctx, testTenant, session.ID)
	require.NoError(t, err)
	_, err = counts.RecordCount(ctx, testTenant, lines[0].ID, 5)
	require.NoError(t, err)

	summary, err := counts.Complete(ctx, testTenant, session.ID)
	require.NoError(t, err)
	assert.True(t, dec("9").Equal(summary.PositiveValue))
	assert.Empty(t, summary.UnpricedProductIDs)
	cache.AssertNotCalled(t, "SetProduct", mock.Anything, mock.Anything)
}
