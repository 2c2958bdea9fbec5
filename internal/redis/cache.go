package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/models"
)

// CacheClient caches availability and catalog products in Redis, single node or cluster
type CacheClient struct {
	client    redis.UniversalClient // Universal client supports both single and cluster
	ttl       time.Duration
	keyPrefix string
}

var _ interfaces.CacheRepository = (*CacheClient)(nil)

// NewCacheClient creates a new Redis cache client with cluster support
func NewCacheClient(addrs []string, password string, clusterMode bool, ttl time.Duration, keyPrefix string) *CacheClient {
	var client redis.UniversalClient

	if clusterMode {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:          addrs,
			Password:       password,
			MaxRetries:     3,
			PoolSize:       50,
			MinIdleConns:   5,
			PoolTimeout:    30 * time.Second,
			MaxRedirects:   8,
			RouteByLatency: true,
		})
	} else {
		addr := "localhost:6379"
		if len(addrs) > 0 {
			addr = addrs[0]
		}
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       0, // DB is not supported in cluster mode
			PoolSize: 10,
		})
	}

	return NewCacheClientWithClient(client, ttl, keyPrefix)
}

// NewCacheClientWithClient wraps an existing client
func NewCacheClientWithClient(client redis.UniversalClient, ttl time.Duration, keyPrefix string) *CacheClient {
	return &CacheClient{
		client:    client,
		ttl:       ttl,
		keyPrefix: keyPrefix,
	}
}

// availabilityEntry is what an availability key holds. An invalidated entry
// keeps its version so that slower fills computed earlier cannot replace it.
type availabilityEntry struct {
	Version      int64                `json:"version"`
	Invalidated  bool                 `json:"invalidated,omitempty"`
	Availability *models.Availability `json:"availability,omitempty"`
}

// putIfNotOlder writes ARGV[1] unless the stored entry has a higher version
var putIfNotOlder = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
  local ok, entry = pcall(cjson.decode, current)
  if ok and type(entry) == 'table' and tonumber(entry['version']) and tonumber(entry['version']) > tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// GetAvailability returns nil, nil on a cache miss or an invalidated entry
func (c *CacheClient) GetAvailability(ctx context.Context, key models.PositionKey) (*models.Availability, error) {
	var entry availabilityEntry
	found, err := c.getJSON(ctx, c.availabilityKey(key), &entry)
	if err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("Failed to get availability from cache")
		return nil, fmt.Errorf("failed to get availability from cache: %w", err)
	}
	if !found || entry.Invalidated || entry.Availability == nil {
		return nil, nil
	}
	log.Debug().Str("key", key.String()).Int64("version", entry.Version).Msg("Cache hit for availability")
	return entry.Availability, nil
}

// SetAvailability stores a computed availability unless the key already
// holds a newer version
func (c *CacheClient) SetAvailability(ctx context.Context, availability *models.Availability) error {
	stored, err := c.putVersioned(ctx, availability.Key, availabilityEntry{
		Version:      availability.Version,
		Availability: availability,
	})
	if err != nil {
		log.Error().Err(err).Str("key", availability.Key.String()).Msg("Failed to set availability in cache")
		return fmt.Errorf("failed to set availability in cache: %w", err)
	}
	if !stored {
		log.Debug().Str("key", availability.Key.String()).Int64("version", availability.Version).Msg("Skipped outdated availability")
	}
	return nil
}

// InvalidateAvailability replaces the cached value with a marker at version
func (c *CacheClient) InvalidateAvailability(ctx context.Context, key models.PositionKey, version int64) error {
	if _, err := c.putVersioned(ctx, key, availabilityEntry{Version: version, Invalidated: true}); err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("Failed to invalidate availability in cache")
		return fmt.Errorf("failed to invalidate availability in cache: %w", err)
	}
	return nil
}

func (c *CacheClient) putVersioned(ctx context.Context, key models.PositionKey, entry availabilityEntry) (bool, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to marshal value: %w", err)
	}
	ttl := max(c.ttl.Milliseconds(), 1)
	stored, err := putIfNotOlder.Run(ctx, c.client, []string{c.availabilityKey(key)}, string(data), entry.Version, ttl).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// GetProduct returns nil, nil on a cache miss
func (c *CacheClient) GetProduct(ctx context.Context, tenantID, productID string) (*models.Product, error) {
	var product models.Product
	found, err := c.getJSON(ctx, c.productKey(tenantID, productID), &product)
	if err != nil {
		return nil, fmt.Errorf("failed to get product from cache: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &product, nil
}

// SetProduct stores a catalog product
func (c *CacheClient) SetProduct(ctx context.Context, product *models.Product) error {
	if err := c.setJSON(ctx, c.productKey(product.TenantID, product.ID), product); err != nil {
		return fmt.Errorf("failed to set product in cache: %w", err)
	}
	return nil
}

// Ping checks if Redis is available
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.client.Close()
}

func (c *CacheClient) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

func (c *CacheClient) setJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

func (c *CacheClient) availabilityKey(key models.PositionKey) string {
	return fmt.Sprintf("%savailability:%s", c.keyPrefix, key)
}

func (c *CacheClient) productKey(tenantID, productID string) string {
	return fmt.Sprintf("%sproduct:%s:%s", c.keyPrefix, tenantID, productID)
}
