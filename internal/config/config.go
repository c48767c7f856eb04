// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Persistence. Both are optional: without Redis the session store is
	// in-memory, without Postgres the durable archive is disabled.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DatabaseURL   string // PostgreSQL connection string

	// Intake validation gates
	MinAudioSeconds     float64
	MinTranscriptLength int

	// Geographic analysis
	MaxTravelSpeedKmh float64
	GeofenceRadiusKm  float64
	GeoOutlierZ       float64

	// Temporal analysis
	BurstWindow     time.Duration
	BurstMinimum    int
	SeasonalRebuild time.Duration // seasonal profile recomputation interval

	// Batch analytics
	MinCorrelation  float64
	Alpha           float64 // significance level shared by correlation and audit
	ForecastHorizon int     // days
	CVFolds         int

	// Pipeline scaling
	BatchSize     int
	BatchInterval time.Duration
	BufferCap     int
	Workers       int
	QueueCap      int
	MaxAttempts   int

	// Tracing
	OTLPEndpoint string // OTLP gRPC collector; empty disables export
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultBatchSize       = 100
	DefaultBatchInterval   = 5 * time.Minute
	DefaultWorkers         = 10
	DefaultSeasonalRebuild = time.Hour
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", DefaultPort),
		Env:      getEnv("ENV", DefaultEnv),
		LogLevel: getEnv("LOG_LEVEL", DefaultLogLevel),

		RedisAddr:     os.Getenv("REDIS_ADDR"), // Optional, uses in-memory if not set
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       int(getEnvInt64("REDIS_DB", 0)),
		DatabaseURL:   os.Getenv("DATABASE_URL"), // Optional, archive disabled if not set

		MinAudioSeconds:     getEnvFloat("MIN_AUDIO_SECONDS", 0),
		MinTranscriptLength: int(getEnvInt64("MIN_TRANSCRIPT_LENGTH", 0)),

		MaxTravelSpeedKmh: getEnvFloat("MAX_TRAVEL_SPEED_KMH", 0),
		GeofenceRadiusKm:  getEnvFloat("GEOFENCE_RADIUS_KM", 0),
		GeoOutlierZ:       getEnvFloat("GEO_OUTLIER_Z", 0),

		BurstWindow:     getEnvDuration("BURST_WINDOW", 0),
		BurstMinimum:    int(getEnvInt64("BURST_MINIMUM", 0)),
		SeasonalRebuild: getEnvDuration("SEASONAL_REBUILD_INTERVAL", DefaultSeasonalRebuild),

		MinCorrelation:  getEnvFloat("MIN_CORRELATION", 0),
		Alpha:           getEnvFloat("SIGNIFICANCE_ALPHA", 0),
		ForecastHorizon: int(getEnvInt64("FORECAST_HORIZON_DAYS", 0)),
		CVFolds:         int(getEnvInt64("CV_FOLDS", 0)),

		BatchSize:     int(getEnvInt64("BATCH_SIZE", DefaultBatchSize)),
		BatchInterval: getEnvDuration("BATCH_INTERVAL", DefaultBatchInterval),
		BufferCap:     int(getEnvInt64("BUFFER_CAP", 0)),
		Workers:       int(getEnvInt64("PIPELINE_WORKERS", DefaultWorkers)),
		QueueCap:      int(getEnvInt64("QUEUE_CAP", 0)),
		MaxAttempts:   int(getEnvInt64("JOB_MAX_ATTEMPTS", 0)),

		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges. Zero values mean "use the package default"
// and always pass; explicit values must be sane.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.Alpha < 0 || c.Alpha >= 1 {
		return fmt.Errorf("SIGNIFICANCE_ALPHA must be in [0, 1), got %g", c.Alpha)
	}
	if c.MinCorrelation < 0 || c.MinCorrelation >= 1 {
		return fmt.Errorf("MIN_CORRELATION must be in [0, 1), got %g", c.MinCorrelation)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be positive, got %d", c.Workers)
	}
	if c.BufferCap > 0 && c.BatchSize > c.BufferCap {
		return fmt.Errorf("BATCH_SIZE %d exceeds BUFFER_CAP %d", c.BatchSize, c.BufferCap)
	}
	if c.MaxTravelSpeedKmh < 0 {
		return fmt.Errorf("MAX_TRAVEL_SPEED_KMH must be positive, got %g", c.MaxTravelSpeedKmh)
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
