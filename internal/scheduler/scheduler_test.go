package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"inventory-engine/internal/config"
	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/models"
)

// MockCountReconciler implements interfaces.CountReconciler for testing
type MockCountReconciler struct {
	mock.Mock
	interfaces.CountReconciler
}

func (m *MockCountReconciler) CreateSession(ctx context.Context, tenantID, warehouseID string, kind models.CountKind, productFilter []string) (*models.CountSession, error) {
	args := m.Called(ctx, tenantID, warehouseID, kind, productFilter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CountSession), args.Error(1)
}

func (m *MockCountReconciler) GenerateLines(ctx context.Context, tenantID string, sessionID uuid.UUID) (int, error) {
	args := m.Called(ctx, tenantID, sessionID)
	return args.Int(0), args.Error(1)
}

func TestRunCycleCounts_OpensOneSessionPerTarget(t *testing.T) {
	counts := new(MockCountReconciler)
	mainSession := &models.CountSession{ID: uuid.New(), TenantID: "acme", WarehouseID: "main", Kind: models.CountKindCyclic}
	allSession := &models.CountSession{ID: uuid.New(), TenantID: "beta", Kind: models.CountKindCyclic}

	counts.On("CreateSession", mock.Anything, "acme", "main", models.CountKindCyclic, []string(nil)).Return(mainSession, nil)
	counts.On("GenerateLines", mock.Anything, "acme", mainSession.ID).Return(4, nil)
	counts.On("CreateSession", mock.Anything, "beta", "", models.CountKindCyclic, []string(nil)).Return(allSession, nil)
	counts.On("GenerateLines", mock.Anything, "beta", allSession.ID).Return(9, nil)

	s := NewScheduler(counts, "0 6 * * 1", []config.CycleCountTarget{
		{TenantID: "acme", WarehouseID: "main"},
		{TenantID: "beta"},
	})
	sessions := s.RunCycleCounts(context.Background())

	require.Len(t, sessions, 2)
	assert.Equal(t, 4, sessions[0].LinesCount)
	assert.Equal(t, 9, sessions[1].LinesCount)
	counts.AssertExpectations(t)
}

func TestRunCycleCounts_FailingTargetDoesNotStopOthers(t *testing.T) {
	counts := new(MockCountReconciler)
	ok := &models.CountSession{ID: uuid.New(), TenantID: "beta", Kind: models.CountKindCyclic}

	counts.On("CreateSession", mock.Anything, "acme", "main", models.CountKindCyclic, []string(nil)).Return(nil, errors.New("db down"))
	counts.On("CreateSession", mock.Anything, "beta", "main", models.CountKindCyclic, []string(nil)).Return(ok, nil)
	counts.On("GenerateLines", mock.Anything, "beta", ok.ID).Return(1, nil)

	s := NewScheduler(counts, "0 6 * * 1", []config.CycleCountTarget{
		{TenantID: "acme", WarehouseID: "main"},
		{TenantID: "beta", WarehouseID: "main"},
	})
	sessions := s.RunCycleCounts(context.Background())

	require.Len(t, sessions, 1)
	assert.Equal(t, "beta", sessions[0].TenantID)
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	s := NewScheduler(new(MockCountReconciler), "every tuesday", nil)
	assert.Error(t, s.Start())
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(new(MockCountReconciler), "0 6 * * 1", nil)
	require.NoError(t, s.Start())
	s.Stop()
}
