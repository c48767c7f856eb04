package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultSeasonalRebuild, cfg.SeasonalRebuild)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "REDIS_ADDR", "localhost:6379")
	setEnv(t, "BATCH_SIZE", "250")
	setEnv(t, "BATCH_INTERVAL", "90s")
	setEnv(t, "MAX_TRAVEL_SPEED_KMH", "850")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.BatchInterval)
	assert.Equal(t, 850.0, cfg.MaxTravelSpeedKmh)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "zero values pass",
			config:  Config{Port: "8080"},
			wantErr: "",
		},
		{
			name:    "missing port",
			config:  Config{},
			wantErr: "PORT",
		},
		{
			name:    "alpha out of range",
			config:  Config{Port: "8080", Alpha: 1.5},
			wantErr: "SIGNIFICANCE_ALPHA",
		},
		{
			name:    "correlation out of range",
			config:  Config{Port: "8080", MinCorrelation: 1.0},
			wantErr: "MIN_CORRELATION",
		},
		{
			name:    "batch larger than buffer",
			config:  Config{Port: "8080", BatchSize: 500, BufferCap: 100},
			wantErr: "BUFFER_CAP",
		},
		{
			name:    "negative travel speed",
			config:  Config{Port: "8080", MaxTravelSpeedKmh: -1},
			wantErr: "MAX_TRAVEL_SPEED_KMH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "150ms")
	setEnv(t, "TEST_DUR_BAD", "soon")

	assert.Equal(t, 150*time.Millisecond, getEnvDuration("TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_DUR_BAD", time.Second))
}
