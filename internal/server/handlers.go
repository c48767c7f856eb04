package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feedbackloop/sentinel/internal/forecast"
	"github.com/feedbackloop/sentinel/internal/health"
	"github.com/feedbackloop/sentinel/internal/logging"
	"github.com/feedbackloop/sentinel/internal/pagination"
	"github.com/feedbackloop/sentinel/internal/pattern"
	"github.com/feedbackloop/sentinel/internal/pipeline"
	"github.com/feedbackloop/sentinel/internal/session"
	"github.com/feedbackloop/sentinel/internal/store"
	"github.com/feedbackloop/sentinel/internal/validation"
)

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Sentinel",
		"description": "Fraud and anomaly analytics for feedback reward sessions",
		"version":     "0.1.0",
	})
}

// submitSession handles POST /v1/sessions: validate and enqueue for
// asynchronous analysis.
func (s *Server) submitSession(c *gin.Context) {
	rec, ok := s.bindSession(c)
	if !ok {
		return
	}

	jobID, err := s.pipe.Submit(c.Request.Context(), rec)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrInvalidSession):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "invalid_session",
			"message": err.Error(),
		})
		return
	case errors.Is(err, pipeline.ErrQueueFull):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "queue_full",
			"message": "Processing queue is full, retry later",
		})
		return
	case errors.Is(err, pipeline.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "shutting_down",
			"message": "Server is shutting down",
		})
		return
	default:
		logging.L(c.Request.Context()).Error("submit failed", "session", rec.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to enqueue session",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":     jobID,
		"sessionId": rec.ID,
		"status":    "queued",
	})
}

// analyzeSession handles POST /v1/sessions/analyze: score synchronously and
// return the full risk result.
func (s *Server) analyzeSession(c *gin.Context) {
	rec, ok := s.bindSession(c)
	if !ok {
		return
	}

	res, err := s.pipe.ProcessSession(c.Request.Context(), rec)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "invalid_session",
				"message": err.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("analysis failed", "session", rec.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Analysis failed",
		})
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) bindSession(c *gin.Context) (*session.Record, bool) {
	var rec session.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return nil, false
	}

	rec.ID = validation.SanitizeString(rec.ID, 64)
	rec.CustomerHash = validation.SanitizeString(rec.CustomerHash, 128)
	rec.BusinessID = validation.SanitizeString(rec.BusinessID, 64)
	rec.LocationID = validation.SanitizeString(rec.LocationID, 64)

	if errs := validation.Validate(
		validation.Required("id", rec.ID),
		validation.Required("customerHash", rec.CustomerHash),
		validation.Required("businessId", rec.BusinessID),
		validation.ValidID("id", rec.ID),
		validation.ValidID("businessId", rec.BusinessID),
		validation.ValidCoordinates("location", rec.Location.Lat, rec.Location.Lon),
		validation.InRange("qualityScore", rec.QualityScore, 0, 100),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return nil, false
	}
	return &rec, true
}

// getResult handles GET /v1/sessions/:id/result
func (s *Server) getResult(c *gin.Context) {
	res, err := s.pipe.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "result_not_found",
				"message": "No result for this session; it may have expired or not been processed yet",
			})
			return
		}
		logging.L(c.Request.Context()).Error("result lookup failed", "session", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load result",
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

// getInsights handles GET /v1/businesses/:id/insights: correlation findings
// over the business's own sessions, or the latest global batch when the
// business has too little history. The scope field says which was served.
func (s *Server) getInsights(c *gin.Context) {
	rep, err := s.pipe.Insights(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "no_analysis",
			"message": "No analysis available for this business yet",
		})
		return
	}

	a := rep.Analysis
	c.JSON(http.StatusOK, gin.H{
		"businessId":    rep.BusinessID,
		"scope":         rep.Scope,
		"batchId":       rep.BatchID,
		"sampleSize":    a.SampleSize,
		"insights":      a.Insights,
		"relationships": a.Relationships,
		"clusters":      a.Clusters,
		"pca":           a.PCA,
		"computedAt":    a.ComputedAt,
	})
}

// getForecast handles GET /v1/businesses/:id/forecast?metric=revenue
func (s *Server) getForecast(c *gin.Context) {
	metric := forecast.Metric(c.DefaultQuery("metric", string(forecast.MetricRevenue)))
	switch metric {
	case forecast.MetricRevenue, forecast.MetricQuality, forecast.MetricFraudRisk, forecast.MetricSeasonalDemand:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_metric",
			"message": "metric must be one of: revenue, quality, fraud_risk, seasonal_demand",
		})
		return
	}

	businessID := c.Param("id")
	bf, err := s.pipe.Forecast(c.Request.Context(), businessID, metric)
	if err != nil {
		// Fall back to the last batch-generated forecast if the live series
		// is too short right now.
		if data, kvErr := s.kv.Get(c.Request.Context(), "forecast:"+businessID+":"+string(metric)); kvErr == nil {
			c.Data(http.StatusOK, "application/json", data)
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "insufficient_history",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, bf)
}

// getAssessments handles GET /v1/businesses/:id/assessments: the archived
// high-risk audit trail.
func (s *Server) getAssessments(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "archive_disabled",
			"message": "Set DATABASE_URL to enable the risk archive",
		})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Malformed pagination cursor",
		})
		return
	}

	// Fetch one extra row to learn whether another page exists.
	results, err := s.archive.RecentAssessments(c.Request.Context(), c.Param("id"), limit+1, cursor)
	if err != nil {
		logging.L(c.Request.Context()).Error("assessment query failed", "business", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load assessments",
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(results, limit, func(r *pattern.Result) (time.Time, string) {
		return r.AnalyzedAt, r.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"businessId":  c.Param("id"),
		"assessments": page,
		"count":       len(page),
		"nextCursor":  next,
		"hasMore":     hasMore,
	})
}

// registerGeofence handles POST /v1/businesses/:id/geofence
func (s *Server) registerGeofence(c *gin.Context) {
	var req struct {
		Lat      float64 `json:"lat"`
		Lon      float64 `json:"lon"`
		RadiusKm float64 `json:"radiusKm"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.ValidCoordinates("center", req.Lat, req.Lon),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return
	}

	s.geoAnalyzer.RegisterGeofence(c.Param("id"),
		session.Coordinates{Lat: req.Lat, Lon: req.Lon}, req.RadiusKm)

	c.JSON(http.StatusOK, gin.H{
		"businessId": c.Param("id"),
		"status":     "registered",
	})
}

// getLatestBatch handles GET /v1/batches/latest
func (s *Server) getLatestBatch(c *gin.Context) {
	batch := s.pipe.LatestBatch()
	if batch == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "no_batch",
			"message": "No batch has completed yet",
		})
		return
	}
	c.JSON(http.StatusOK, batch)
}

// pipelineStatus handles GET /v1/pipeline/status
func (s *Server) pipelineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pipeline": s.pipe.Status(),
		"realtime": s.hub.Stats(),
	})
}

// failedJobs handles GET /v1/pipeline/jobs/failed
func (s *Server) failedJobs(c *gin.Context) {
	jobs := s.pipe.FailedJobs()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}
