// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/feedbackloop/sentinel/internal/audit"
	"github.com/feedbackloop/sentinel/internal/config"
	"github.com/feedbackloop/sentinel/internal/correlation"
	"github.com/feedbackloop/sentinel/internal/forecast"
	"github.com/feedbackloop/sentinel/internal/geo"
	"github.com/feedbackloop/sentinel/internal/health"
	"github.com/feedbackloop/sentinel/internal/history"
	"github.com/feedbackloop/sentinel/internal/logging"
	"github.com/feedbackloop/sentinel/internal/metrics"
	"github.com/feedbackloop/sentinel/internal/pipeline"
	"github.com/feedbackloop/sentinel/internal/ratelimit"
	"github.com/feedbackloop/sentinel/internal/realtime"
	"github.com/feedbackloop/sentinel/internal/security"
	"github.com/feedbackloop/sentinel/internal/session"
	"github.com/feedbackloop/sentinel/internal/store"
	"github.com/feedbackloop/sentinel/internal/temporal"
	"github.com/feedbackloop/sentinel/internal/traces"
	"github.com/feedbackloop/sentinel/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	kv           store.Store
	archive      *store.PostgresArchive
	db           *sql.DB // nil when archive is disabled
	pipe         *pipeline.Pipeline
	geoAnalyzer  *geo.Analyzer
	rebuilder    *temporal.Rebuilder
	hub          *realtime.Hub
	checks       *health.Registry
	rateLimiter  *ratelimit.Limiter
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	tracesStop   func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore sets a custom session store (for testing)
func WithStore(kv store.Store) Option {
	return func(s *Server) {
		s.kv = kv
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	// Apply options first (may set store/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Session store: Redis if configured, otherwise in-memory
	if s.kv == nil {
		if cfg.RedisAddr != "" {
			s.kv = store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			s.logger.Info("using Redis session store", "addr", cfg.RedisAddr)
		} else {
			s.kv = store.NewMemoryStore()
			s.logger.Info("using in-memory session store (data will not persist)")
		}
	}
	s.checks.Register("store", func(ctx context.Context) health.Status {
		st := health.Status{Name: "store", Healthy: true}
		if err := s.kv.Ping(ctx); err != nil {
			st.Healthy = false
			st.Detail = err.Error()
		}
		return st
	})

	// Durable archive: Postgres if configured
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.archive = store.NewPostgresArchive(db)
		s.logger.Info("risk archive enabled", "url", maskDSN(cfg.DatabaseURL))

		s.checks.Register("archive", func(ctx context.Context) health.Status {
			st := health.Status{Name: "archive", Healthy: true}
			if err := s.archive.Ping(ctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			return st
		})
	} else {
		s.logger.Info("risk archive disabled (no DATABASE_URL set)")
	}

	// Analyzer state: per-customer history feeds geo and temporal analysis,
	// per-business history feeds seasonal profiles and forecasting.
	customers := history.NewMemoryStore(0)
	businesses := history.NewMemoryStore(0)
	seasonal := temporal.NewMemorySeasonalStore()
	s.rebuilder = temporal.NewRebuilder(businesses, seasonal, cfg.SeasonalRebuild, s.logger)

	s.geoAnalyzer = geo.New(customers, geo.Config{
		MaxTravelSpeedKmh: cfg.MaxTravelSpeedKmh,
		GeofenceRadiusKm:  cfg.GeofenceRadiusKm,
		OutlierZ:          cfg.GeoOutlierZ,
	}, s.logger)

	temporalAnalyzer := temporal.New(customers, seasonal, temporal.Config{
		BurstWindow:  cfg.BurstWindow,
		BurstMinimum: cfg.BurstMinimum,
	}, s.logger)

	// Realtime hub for WebSocket streaming
	s.hub = realtime.NewHub(s.logger)

	s.pipe = pipeline.New(pipeline.Config{
		BatchSize:     cfg.BatchSize,
		BatchInterval: cfg.BatchInterval,
		BufferCap:     cfg.BufferCap,
		Workers:       cfg.Workers,
		QueueCap:      cfg.QueueCap,
		MaxAttempts:   cfg.MaxAttempts,
	}, pipeline.Deps{
		Validator:  session.NewValidator(cfg.MinAudioSeconds, cfg.MinTranscriptLength),
		Customers:  customers,
		Businesses: businesses,
		Geo:        s.geoAnalyzer,
		Temporal:   temporalAnalyzer,
		Scorer:     correlation.NewRealtimeScorer(),
		Engine: correlation.NewEngine(correlation.Config{
			MinCorrelation: cfg.MinCorrelation,
			Alpha:          cfg.Alpha,
		}, s.logger),
		Forecaster: forecast.NewForecaster(forecast.Config{
			Horizon: cfg.ForecastHorizon,
			Folds:   cfg.CVFolds,
		}, s.logger),
		Auditor: audit.NewValidator(audit.Config{
			Alpha: cfg.Alpha,
			Folds: cfg.CVFolds,
		}, s.logger),
		KV:      s.kv,
		Archive: s.archive,
		Hub:     s.hub,
	}, s.logger)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.IDParamMiddleware())

	// Session ingestion and results
	v1.POST("/sessions", s.submitSession)
	v1.POST("/sessions/analyze", s.analyzeSession)
	v1.GET("/sessions/:id/result", s.getResult)

	// Business analytics
	v1.GET("/businesses/:id/insights", s.getInsights)
	v1.GET("/businesses/:id/forecast", s.getForecast)
	v1.GET("/businesses/:id/assessments", s.getAssessments)
	v1.POST("/businesses/:id/geofence", s.registerGeofence)

	// Batch analytics
	v1.GET("/batches/latest", s.getLatestBatch)

	// Pipeline operations
	v1.GET("/pipeline/status", s.pipelineStatus)
	v1.GET("/pipeline/jobs/failed", s.failedJobs)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Distributed tracing
	stop, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing init failed", "error", err)
	} else {
		s.tracesStop = stop
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Start seasonal profile rebuilder
	go s.rebuilder.Start(runCtx)

	// Start DB stats collector when the risk archive is enabled
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Start the analysis pipeline
	s.pipe.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server: stop accepting HTTP traffic, drain
// the pipeline, then close persistence.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
	}

	// Drain in-flight jobs and flush the session buffer
	if err := s.pipe.Shutdown(ctx); err != nil {
		s.logger.Error("pipeline drain error", "error", err)
	}

	// Stop background goroutines (hub, rebuilder)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.rebuilder.Stop()

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.tracesStop != nil {
		if err := s.tracesStop(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	// Close persistence last
	if err := s.kv.Close(); err != nil {
		s.logger.Error("store close error", "error", err)
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
