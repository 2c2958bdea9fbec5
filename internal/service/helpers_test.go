package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/models"
	"inventory-engine/internal/repository/memory"
)

const testTenant = "t1"

func testKey(product string) models.PositionKey {
	return models.PositionKey{TenantID: testTenant, ProductID: product, WarehouseID: "main"}
}

type testEngine struct {
	store        *memory.Store
	ledger       *Ledger
	availability *AvailabilityService
	reservations *ReservationService
	kits         *KitService
	counts       *CountService
}

func testConfig() ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

// newTestEngine wires every service over a fresh in-memory store without a cache
func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	store := memory.NewStore(time.Second)
	cfg := testConfig()

	ledger, err := NewLedger(store, nil, cfg)
	require.NoError(t, err)
	availability, err := NewAvailabilityService(store, nil, cfg)
	require.NoError(t, err)
	reservations, err := NewReservationService(store, nil, cfg)
	require.NoError(t, err)
	counts, err := NewCountService(store, ledger, store, nil, cfg)
	require.NoError(t, err)

	return &testEngine{
		store:        store,
		ledger:       ledger,
		availability: availability,
		reservations: reservations,
		kits:         NewKitService(store, availability, reservations),
		counts:       counts,
	}
}

func (e *testEngine) stock(t *testing.T, product string, qty int64) {
	t.Helper()
	_, err := e.ledger.Adjust(context.Background(), testKey(product), qty, models.ReasonManual, interfaces.AdjustOptions{Actor: "setup"})
	require.NoError(t, err)
}

func (e *testEngine) reserve(t *testing.T, product string, qty int64) *models.Reservation {
	t.Helper()
	r, err := e.reservations.Reserve(context.Background(), testTenant, reserveInput(product, qty))
	require.NoError(t, err)
	return r
}

func reserveInput(product string, qty int64) interfaces.ReserveInput {
	return interfaces.ReserveInput{
		EventID:     "wedding-42",
		ProductID:   product,
		WarehouseID: "main",
		Quantity:    qty,
		NeedDate:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (e *testEngine) available(t *testing.T, product string) int64 {
	t.Helper()
	a, err := e.availability.GetAvailability(context.Background(), testKey(product))
	require.NoError(t, err)
	return a.Available
}

func int64p(v int64) *int64 { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// MockCacheRepository implements interfaces.CacheRepository for testing
type MockCacheRepository struct {
	mock.Mock
}

var _ interfaces.CacheRepository = (*MockCacheRepository)(nil)

func (m *MockCacheRepository) GetAvailability(ctx context.Context, key models.PositionKey) (*models.Availability, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Availability), args.Error(1)
}

func (m *MockCacheRepository) SetAvailability(ctx context.Context, availability *models.Availability) error {
	args := m.Called(ctx, availability)
	return args.Error(0)
}

func (m *MockCacheRepository) InvalidateAvailability(ctx context.Context, key models.PositionKey, version int64) error {
	args := m.Called(ctx, key, version)
	return args.Error(0)
}

func (m *MockCacheRepository) GetProduct(ctx context.Context, tenantID, productID string) (*models.Product, error) {
	args := m.Called(ctx, tenantID, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *MockCacheRepository) SetProduct(ctx context.Context, product *models.Product) error {
	args := m.Called(ctx, product)
	return args.Error(0)
}

func (m *MockCacheRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

func adjustBy(actor string) interfaces.AdjustOptions {
	return interfaces.AdjustOptions{Actor: actor}
}

// mapCache is an in-process CacheRepository with the same version rule as
// the Redis cache. fillDelay slows SetAvailability down.
type mapCache struct {
	mu        sync.Mutex
	entries   map[models.PositionKey]mapCacheEntry
	fillDelay time.Duration
}

type mapCacheEntry struct {
	version      int64
	availability *models.Availability
}

var _ interfaces.CacheRepository = (*mapCache)(nil)

func newMapCache(fillDelay time.Duration) *mapCache {
	return &mapCache{entries: map[models.PositionKey]mapCacheEntry{}, fillDelay: fillDelay}
}

func (c *mapCache) GetAvailability(_ context.Context, key models.PositionKey) (*models.Availability, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || entry.availability == nil {
		return nil, nil
	}
	a := *entry.availability
	return &a, nil
}

func (c *mapCache) SetAvailability(_ context.Context, availability *models.Availability) error {
	time.Sleep(c.fillDelay)
	a := *availability
	c.put(availability.Key, mapCacheEntry{version: availability.Version, availability: &a})
	return nil
}

func (c *mapCache) InvalidateAvailability(_ context.Context, key models.PositionKey, version int64) error {
	c.put(key, mapCacheEntry{version: version})
	return nil
}

func (c *mapCache) put(key models.PositionKey, entry mapCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.entries[key]; ok && current.version > entry.version {
		return
	}
	c.entries[key] = entry
}

func (c *mapCache) GetProduct(context.Context, string, string) (*models.Product, error) {
	return nil, nil
}

func (c *mapCache) SetProduct(context.Context, *models.Product) error { return nil }

func (c *mapCache) Close() error { return nil }

// newCachedEngine wires the write services and a cached availability reader
// over one store and one cache, the way the engine and reader share Redis.
// Kits read through an uncached service like the engine does.
func newCachedEngine(t *testing.T, cache interfaces.CacheRepository) *testEngine {
	t.Helper()
	store := memory.NewStore(time.Second)
	cfg := testConfig()

	ledger, err := NewLedger(store, cache, cfg)
	require.NoError(t, err)
	availability, err := NewAvailabilityService(store, cache, cfg)
	require.NoError(t, err)
	direct, err := NewAvailabilityService(store, nil, cfg)
	require.NoError(t, err)
	reservations, err := NewReservationService(store, cache, cfg)
	require.NoError(t, err)
	counts, err := NewCountService(store, ledger, store, cache, cfg)
	require.NoError(t, err)

	return &testEngine{
		store:        store,
		ledger:       ledger,
		availability: availability,
		reservations: reservations,
		kits:         NewKitService(store, direct, reservations),
		counts:       counts,
	}
}
