package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("RATE_LIMIT_WHITELIST", "")
	t.Setenv("FANOUT_WORKERS", "")
	t.Setenv("FANOUT_QUEUE_SIZE", "")
	t.Setenv("EVENT_QUEUE_TTL", "")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 4, cfg.FanoutWorkers)
	assert.Equal(t, 1024, cfg.FanoutQueueSize)
	assert.Equal(t, 24*time.Hour, cfg.EventQueueTTL)
	assert.Empty(t, cfg.RateLimitWhitelist)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FANOUT_WORKERS", "8")
	t.Setenv("FANOUT_QUEUE_SIZE", "not-a-number")
	t.Setenv("EVENT_QUEUE_TTL", "90m")
	t.Setenv("RATE_LIMIT_WHITELIST", " 10.0.0.1, 192.168.0.0/16 ,,")
	t.Setenv("AUTO_BLOCK_ENABLED", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 8, cfg.FanoutWorkers)
	assert.Equal(t, 1024, cfg.FanoutQueueSize, "invalid values fall back to the default")
	assert.Equal(t, 90*time.Minute, cfg.EventQueueTTL)
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.RateLimitWhitelist)
	assert.True(t, cfg.AutoBlockEnabled)
}

func TestFromEnv_ProductionRequiresBackends(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/zulip")
	t.Setenv("REDIS_URL", "")
	_, err = FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")

	t.Setenv("REDIS_URL", "redis://localhost:6379")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
}
