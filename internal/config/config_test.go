package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AlfredDev/alfred/services/payouts/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()
	cfg := config.Load()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "development", cfg.Env)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "ignore_replay", cfg.IdempotencyReplayPolicy)
}

func TestLoadOverrides(t *testing.T) {
	os.Clearenv()
	os.Setenv("ENV", "production")
	os.Setenv("WORKER_CONCURRENCY", "20")
	os.Setenv("RETRY_MAX_RETRIES", "5")
	defer os.Clearenv()

	cfg := config.Load()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 20, cfg.Concurrency)
	assert.Equal(t, 5, cfg.MaxRetries)
}
