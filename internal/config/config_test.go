package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, 3, cfg.ContentionMaxRetries)
	assert.Equal(t, "0 6 * * 1", cfg.CycleCountSchedule)
	assert.Equal(t, "inv:development:", cfg.RedisKeyPrefix)
	assert.False(t, cfg.IsProduction())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("LOCK_TIMEOUT_MS", "250")
	t.Setenv("CONTENTION_MAX_RETRIES", "5")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("REDIS_ADDRS", "r1:6379;r2:6379")
	t.Setenv("OUTBOX_POLL_INTERVAL", "2s")
	t.Setenv("CYCLE_COUNT_TARGETS", "acme:main,acme,:orphan")
	t.Setenv("ENVIRONMENT", "production")

	cfg := LoadConfig()

	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, 5, cfg.ContentionMaxRetries)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.RedisAddrs)
	assert.True(t, cfg.RedisClusterMode)
	assert.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, []CycleCountTarget{
		{TenantID: "acme", WarehouseID: "main"},
		{TenantID: "acme", WarehouseID: ""},
	}, cfg.CycleCountTargets)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 25, cfg.DatabaseMaxConns)
}

func TestLoadConfig_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("LOCK_TIMEOUT_MS", "soon")
	t.Setenv("OUTBOX_BATCH_SIZE", "")

	cfg := LoadConfig()
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, 100, cfg.OutboxBatchSize)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StoreDriver:        StoreDriverPostgres,
			DatabaseURL:        "postgres://localhost/inventory",
			LockTimeout:        time.Second,
			OutboxEnabled:      true,
			OutboxBatchSize:    10,
			OutboxPollInterval: time.Second,
			KafkaBrokers:       []string{"localhost:9092"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(c *Config){
		"unknown driver":     func(c *Config) { c.StoreDriver = "sqlite" },
		"missing url":        func(c *Config) { c.DatabaseURL = "" },
		"zero lock timeout":  func(c *Config) { c.LockTimeout = 0 },
		"negative retries":   func(c *Config) { c.ContentionMaxRetries = -1 },
		"zero batch":         func(c *Config) { c.OutboxBatchSize = 0 },
		"no brokers":         func(c *Config) { c.KafkaBrokers = nil },
		"zero poll interval": func(c *Config) { c.OutboxPollInterval = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	memory := valid()
	memory.StoreDriver = StoreDriverMemory
	memory.DatabaseURL = ""
	assert.NoError(t, memory.Validate())
}
