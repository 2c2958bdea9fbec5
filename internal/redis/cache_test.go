package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-engine/internal/models"
)

// fakeRedis keeps values in a map. Only the commands CacheClient issues are
// implemented; EvalSha runs the put-if-not-older script logic in Go.
type fakeRedis struct {
	redis.UniversalClient
	data    map[string]string
	ttls    map[string]time.Duration
	failGet error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.failGet != nil {
		return redis.NewStringResult("", f.failGet)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	key := keys[0]
	value := args[0].(string)
	version := args[1].(int64)
	ttl := time.Duration(args[2].(int64)) * time.Millisecond

	if current, ok := f.data[key]; ok {
		var entry struct {
			Version int64 `json:"version"`
		}
		if json.Unmarshal([]byte(current), &entry) == nil && entry.Version > version {
			return redis.NewCmdResult(int64(0), nil)
		}
	}
	f.data[key] = value
	f.ttls[key] = ttl
	return redis.NewCmdResult(int64(1), nil)
}

var testKey = models.PositionKey{TenantID: "acme", ProductID: "chair", WarehouseID: "main"}

func TestCacheClient_AvailabilityRoundTrip(t *testing.T) {
	fake := newFakeRedis()
	cache := NewCacheClientWithClient(fake, 5*time.Minute, "inv:test:")
	ctx := context.Background()

	got, err := cache.GetAvailability(ctx, testKey)
	require.NoError(t, err)
	assert.Nil(t, got, "miss is nil without error")

	require.NoError(t, cache.SetAvailability(ctx, &models.Availability{Key: testKey, OnHand: 20, Outstanding: 5, Available: 15, Version: 3}))
	assert.Equal(t, 5*time.Minute, fake.ttls["inv:test:availability:"+testKey.String()])

	got, err = cache.GetAvailability(ctx, testKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(15), got.Available)
	assert.Equal(t, testKey, got.Key)

	require.NoError(t, cache.InvalidateAvailability(ctx, testKey, 4))
	got, err = cache.GetAvailability(ctx, testKey)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheClient_OutdatedFillDoesNotReplaceInvalidation(t *testing.T) {
	fake := newFakeRedis()
	cache := NewCacheClientWithClient(fake, time.Minute, "inv:")
	ctx := context.Background()

	// a reservation committed at version 8 while a read of version 7 was in flight
	require.NoError(t, cache.InvalidateAvailability(ctx, testKey, 8))
	require.NoError(t, cache.SetAvailability(ctx, &models.Availability{Key: testKey, Available: 5, Version: 7}))

	got, err := cache.GetAvailability(ctx, testKey)
	require.NoError(t, err)
	assert.Nil(t, got, "older figures must not be served")

	require.NoError(t, cache.SetAvailability(ctx, &models.Availability{Key: testKey, Available: 0, Version: 8}))
	got, err = cache.GetAvailability(ctx, testKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(0), got.Available)
}

func TestCacheClient_OlderInvalidationKeepsNewerValue(t *testing.T) {
	fake := newFakeRedis()
	cache := NewCacheClientWithClient(fake, time.Minute, "inv:")
	ctx := context.Background()

	require.NoError(t, cache.SetAvailability(ctx, &models.Availability{Key: testKey, Available: 2, Version: 10}))
	require.NoError(t, cache.InvalidateAvailability(ctx, testKey, 9))

	got, err := cache.GetAvailability(ctx, testKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.Available)
}

func TestCacheClient_KeysAreTenantScoped(t *testing.T) {
	fake := newFakeRedis()
	cache := NewCacheClientWithClient(fake, time.Minute, "inv:")
	ctx := context.Background()

	require.NoError(t, cache.SetAvailability(ctx, &models.Availability{Key: testKey, Available: 3}))

	other := testKey
	other.TenantID = "globex"
	got, err := cache.GetAvailability(ctx, other)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheClient_ProductRoundTrip(t *testing.T) {
	fake := newFakeRedis()
	cache := NewCacheClientWithClient(fake, time.Minute, "inv:")
	ctx := context.Background()

	cost := decimal.RequireFromString("12.50")
	require.NoError(t, cache.SetProduct(ctx, &models.Product{ID: "chair", TenantID: "acme", UnitCost: cost}))

	got, err := cache.GetProduct(ctx, "acme", "chair")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, cost.Equal(got.UnitCost))

	got, err = cache.GetProduct(ctx, "acme", "table")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheClient_GetErrorIsReturned(t *testing.T) {
	fake := newFakeRedis()
	fake.failGet = errors.New("connection refused")
	cache := NewCacheClientWithClient(fake, time.Minute, "inv:")

	got, err := cache.GetAvailability(context.Background(), testKey)
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestCacheClient_CorruptValueIsAnError(t *testing.T) {
	fake := newFakeRedis()
	cache := NewCacheClientWithClient(fake, time.Minute, "inv:")
	fake.data[cache.availabilityKey(testKey)] = "{not json"

	_, err := cache.GetAvailability(context.Background(), testKey)
	assert.Error(t, err)
}
