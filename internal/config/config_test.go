package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envOf(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 2, cfg.Dispatch.Attempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Dispatch.Backoff)
	assert.Equal(t, 10, cfg.Sweep.Concurrency)
	assert.Equal(t, 15*time.Minute, cfg.Sweep.StaleAfter)
	assert.True(t, cfg.Platform.SyncEnabled)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, "host=localhost port=5432 user=postgres password= dbname=clinic_ledger sslmode=disable", cfg.Database.DSN())
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{
		"DATABASE_URL":      "postgres://u:p@db/ledger?sslmode=disable",
		"REDIS_ADDR":        "redis:6379",
		"SYNC_ENABLED":      "false",
		"SWEEP_CONCURRENCY": "0",
		"DISPATCH_BACKOFF":  "1s",
	}))
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db/ledger?sslmode=disable", cfg.Database.DSN())
	assert.True(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Platform.SyncEnabled)
	assert.Equal(t, 1, cfg.Sweep.Concurrency)
	assert.Equal(t, time.Second, cfg.Dispatch.Backoff)
}

func TestFromEnv_InvalidValues(t *testing.T) {
	_, err := FromEnv(envOf(map[string]string{
		"DB_PORT":        "five",
		"SWEEP_INTERVAL": "often",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PORT")
	assert.Contains(t, err.Error(), "SWEEP_INTERVAL")
}
