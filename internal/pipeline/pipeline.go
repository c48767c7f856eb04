// Package pipeline orchestrates the full analysis flow: intake validation,
// per-session fan-out to the geographic, temporal and cross-dimensional
// analyzers, result merging and persistence, and periodic batch analytics
// over the buffered session window.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/feedbackloop/sentinel/internal/audit"
	"github.com/feedbackloop/sentinel/internal/circuitbreaker"
	"github.com/feedbackloop/sentinel/internal/correlation"
	"github.com/feedbackloop/sentinel/internal/forecast"
	"github.com/feedbackloop/sentinel/internal/geo"
	"github.com/feedbackloop/sentinel/internal/history"
	"github.com/feedbackloop/sentinel/internal/idgen"
	"github.com/feedbackloop/sentinel/internal/metrics"
	"github.com/feedbackloop/sentinel/internal/pattern"
	"github.com/feedbackloop/sentinel/internal/realtime"
	"github.com/feedbackloop/sentinel/internal/session"
	"github.com/feedbackloop/sentinel/internal/store"
	"github.com/feedbackloop/sentinel/internal/temporal"
	"github.com/feedbackloop/sentinel/internal/traces"
)

// ErrNoAnalysis is returned by Insights before any analysis exists.
var ErrNoAnalysis = errors.New("pipeline: no analysis available yet")

// Config holds the pipeline scaling knobs. Zero values take defaults.
type Config struct {
	BatchSize      int           // buffered sessions that trigger a batch run (default 100)
	BatchInterval  time.Duration // timer fallback for partial batches (default 5m)
	BufferCap      int           // bounded session buffer (default 1000)
	Workers        int           // concurrent processing jobs (default 10)
	QueueCap       int           // pending job queue (default 256)
	MaxAttempts    int           // attempts per job (default 3)
	RetryBaseDelay time.Duration // first retry backoff (default 100ms)
	ScoreHistory   int           // anomaly scores retained for audit baselines (default 5000)
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = 5 * time.Minute
	}
	if c.BufferCap <= 0 {
		c.BufferCap = DefaultBufferCap
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.QueueCap <= 0 {
		c.QueueCap = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 100 * time.Millisecond
	}
	if c.ScoreHistory <= 0 {
		c.ScoreHistory = 5000
	}
	return c
}

// Deps are the pipeline's collaborators. Archive and Hub are optional;
// everything else is required.
type Deps struct {
	Validator  *session.Validator
	Customers  history.Store // per-customer session history
	Businesses history.Store // per-business session history
	Geo        *geo.Analyzer
	Temporal   *temporal.Analyzer
	Scorer     *correlation.RealtimeScorer
	Engine     *correlation.Engine
	Forecaster *forecast.Forecaster
	Auditor    *audit.Validator
	KV         store.Store
	Archive    *store.PostgresArchive
	Hub        *realtime.Hub
}

// Pipeline wires intake, analysis, persistence and batch analytics together.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	validator  *session.Validator
	customers  history.Store
	businesses history.Store
	geo        *geo.Analyzer
	temporal   *temporal.Analyzer
	scorer     *correlation.RealtimeScorer
	engine     *correlation.Engine
	forecaster *forecast.Forecaster
	auditor    *audit.Validator

	kv      store.Store
	archive *store.PostgresArchive
	hub     *realtime.Hub
	breaker *circuitbreaker.Breaker

	weights map[pattern.Type]float64

	buf  *buffer
	jobs chan *Job
	wg   sync.WaitGroup

	submitMu  sync.RWMutex
	accepting bool

	stopBatch chan struct{}
	kick      chan struct{} // size-triggered batch requests, capacity 1
	batchWG   sync.WaitGroup
	batchMu   sync.Mutex // serializes batch runs

	mu           sync.Mutex
	failedJobs   []*Job
	scores       map[string]float64 // session ID -> anomaly score, pending batch
	scoreHistory []float64          // prior batch scores, audit baseline
	lastBatch    *BatchResult

	processed     atomic.Int64
	rejected      atomic.Int64
	batchRuns     atomic.Int64
	lastSessionAt atomic.Int64 // unix nanos
	lastBatchAt   atomic.Int64
}

// New builds a stopped pipeline; call Start before submitting sessions.
func New(cfg Config, deps Deps, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	// One weight table across all analyzers so merged patterns score
	// consistently no matter which analyzer found them.
	weights := make(map[pattern.Type]float64)
	for t, w := range geo.DefaultWeights() {
		weights[t] = w
	}
	for t, w := range temporal.DefaultWeights() {
		weights[t] = w
	}
	weights[pattern.TypeFeatureDeviation] = 0.5

	return &Pipeline{
		cfg:        cfg,
		logger:     logger,
		validator:  deps.Validator,
		customers:  deps.Customers,
		businesses: deps.Businesses,
		geo:        deps.Geo,
		temporal:   deps.Temporal,
		scorer:     deps.Scorer,
		engine:     deps.Engine,
		forecaster: deps.Forecaster,
		auditor:    deps.Auditor,
		kv:         deps.KV,
		archive:    deps.Archive,
		hub:        deps.Hub,
		breaker:    circuitbreaker.New(5, 30*time.Second),
		weights:    weights,
		buf:        newBuffer(cfg.BufferCap),
		jobs:       make(chan *Job, cfg.QueueCap),
		stopBatch:  make(chan struct{}),
		kick:       make(chan struct{}, 1),
		scores:     make(map[string]float64),
	}
}

// Start launches the worker pool and the batch timer.
func (p *Pipeline) Start(ctx context.Context) {
	p.submitMu.Lock()
	p.accepting = true
	p.submitMu.Unlock()

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.batchWG.Add(1)
	go p.batchLoop(ctx)

	p.logger.Info("pipeline started",
		"workers", p.cfg.Workers, "batchSize", p.cfg.BatchSize, "interval", p.cfg.BatchInterval)
}

// Submit validates a session and enqueues it for asynchronous processing.
// Invalid sessions are rejected outright and never enter the queue.
func (p *Pipeline) Submit(ctx context.Context, rec *session.Record) (string, error) {
	if err := p.validateIntake(rec); err != nil {
		return "", err
	}

	p.submitMu.RLock()
	defer p.submitMu.RUnlock()
	if !p.accepting {
		return "", ErrShuttingDown
	}

	j := newJob(rec)
	select {
	case p.jobs <- j:
		metrics.JobQueueDepth.Set(float64(len(p.jobs)))
		return j.ID, nil
	default:
		return "", ErrQueueFull
	}
}

func (p *Pipeline) validateIntake(rec *session.Record) error {
	if err := p.validator.Validate(rec); err != nil {
		p.rejected.Add(1)
		metrics.SessionsRejectedTotal.Inc()
		p.logger.Warn("session rejected", "session", rec.ID, "error", err)
		return err
	}
	return nil
}

// analyzerOut carries one analyzer's contribution back from the fan-out.
type analyzerOut struct {
	name       string
	patterns   []pattern.Pattern
	confidence float64
	err        error
}

// ProcessSession runs the synchronous per-session flow: validate, fan out to
// the analyzers, merge into a risk result, record history, persist and emit.
// The session joins the batch buffer on success; a full buffer schedules a
// batch pass on the batch goroutine, never on this one.
func (p *Pipeline) ProcessSession(ctx context.Context, rec *session.Record) (*pattern.Result, error) {
	if err := p.validator.Validate(rec); err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "pipeline.ProcessSession",
		traces.SessionID(rec.ID), traces.CustomerHash(rec.CustomerHash), traces.BusinessID(rec.BusinessID))
	defer span.End()

	outs := p.fanOut(ctx, rec)

	var (
		all      []pattern.Pattern
		confSum  float64
		succ     int
		failures int
	)
	for _, out := range outs {
		if out.err != nil {
			failures++
			metrics.AnalyzerFailuresTotal.WithLabelValues(out.name).Inc()
			p.logger.Warn("analyzer failed", "analyzer", out.name, "session", rec.ID, "error", out.err)
			continue
		}
		succ++
		confSum += out.confidence
		all = append(all, out.patterns...)
	}
	if succ == 0 {
		err := fmt.Errorf("pipeline: all analyzers failed for session %s", rec.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "all analyzers failed")
		return nil, err
	}

	score := pattern.Aggregate(all, p.weights)
	level := pattern.LevelFor(score)

	// A failed analyzer cannot raise the score, so confidence drops in
	// proportion to the coverage lost. Data quality weighs in the same
	// way: stale or sparsely populated records lower confidence, never
	// the score itself.
	quality := p.validator.Quality(rec, time.Now())
	confidence := (confSum / float64(succ)) * float64(succ) / float64(len(outs)) * quality.Overall()

	res := &pattern.Result{
		ID:           idgen.WithPrefix("assess"),
		SessionID:    rec.ID,
		CustomerHash: rec.CustomerHash,
		BusinessID:   rec.BusinessID,
		AnomalyScore: score,
		RiskLevel:    level,
		Confidence:   confidence,
		Quality:      &quality,
		Patterns:     all,
		AnalyzedAt:   time.Now(),
	}
	span.SetAttributes(traces.RiskLevel(string(level)), traces.AnomalyScore(score))
	for _, pt := range all {
		res.Reasons = append(res.Reasons, pt.Reason)
		metrics.PatternsDetectedTotal.WithLabelValues(string(pt.Type)).Inc()
	}

	metrics.SessionsProcessedTotal.WithLabelValues(string(level)).Inc()
	metrics.AnomalyScore.Observe(score)

	// History and the reference window take the session only after it has
	// been scored, so a session never influences its own baseline.
	if err := p.customers.Append(ctx, rec.CustomerHash, rec); err != nil {
		p.logger.Warn("customer history append failed", "session", rec.ID, "error", err)
	}
	if err := p.businesses.Append(ctx, rec.BusinessID, rec); err != nil {
		p.logger.Warn("business history append failed", "session", rec.ID, "error", err)
	}
	p.scorer.Observe(rec)

	p.persistResult(ctx, res)
	p.emit(res)

	p.processed.Add(1)
	p.lastSessionAt.Store(time.Now().UnixNano())

	p.mu.Lock()
	p.scores[rec.ID] = score
	p.mu.Unlock()

	if depth := p.buf.add(rec); depth >= p.cfg.BatchSize {
		// Batch statistics are CPU-bound; hand them to the batch
		// goroutine instead of stalling this caller. The channel holds
		// one pending request, extra triggers coalesce into it.
		select {
		case p.kick <- struct{}{}:
		default:
		}
	}
	return res, nil
}

// fanOut runs the three analyzers concurrently and settles all of them; one
// failure never discards the others' findings.
func (p *Pipeline) fanOut(ctx context.Context, rec *session.Record) []analyzerOut {
	results := make(chan analyzerOut, 3)

	go func() {
		a, err := p.geo.Analyze(ctx, rec)
		out := analyzerOut{name: "geo", err: err}
		if err == nil {
			out.patterns = a.Patterns
			out.confidence = a.Confidence
		}
		results <- out
	}()
	go func() {
		a, err := p.temporal.Analyze(ctx, rec)
		out := analyzerOut{name: "temporal", err: err}
		if err == nil {
			out.patterns = a.Patterns
			out.confidence = a.Confidence
		}
		results <- out
	}()
	go func() {
		rep := p.scorer.Score(rec)
		out := analyzerOut{name: "correlation", confidence: 1}
		if rep.Pattern != nil {
			out.patterns = []pattern.Pattern{*rep.Pattern}
		}
		results <- out
	}()

	outs := make([]analyzerOut, 0, 3)
	for i := 0; i < 3; i++ {
		outs = append(outs, <-results)
	}
	return outs
}

// persist runs one store write behind the circuit breaker. When the
// breaker is open the write is skipped and counted as a store failure,
// so a dead store does not stall every session on timeouts.
func (p *Pipeline) persist(op string, fn func() error) error {
	if !p.breaker.Allow(op) {
		metrics.StoreFailuresTotal.WithLabelValues(op).Inc()
		return fmt.Errorf("%s circuit open", op)
	}
	if err := fn(); err != nil {
		p.breaker.RecordFailure(op)
		metrics.StoreFailuresTotal.WithLabelValues(op).Inc()
		return err
	}
	p.breaker.RecordSuccess(op)
	return nil
}

// persistResult writes the assessment to the session store and, for high and
// critical risk, to the durable archive. Persistence failures degrade to
// logs; the caller still gets the result.
func (p *Pipeline) persistResult(ctx context.Context, res *pattern.Result) {
	data, err := json.Marshal(res)
	if err != nil {
		p.logger.Error("result marshal failed", "session", res.SessionID, "error", err)
		return
	}
	err = p.persist("set", func() error {
		return p.kv.Set(ctx, resultKey(res.SessionID), data, store.SessionTTL)
	})
	if err != nil {
		p.logger.Warn("result persist failed", "session", res.SessionID, "error", err)
	}

	if p.archive != nil && (res.RiskLevel == pattern.RiskHigh || res.RiskLevel == pattern.RiskCritical) {
		err = p.persist("archive", func() error {
			return p.archive.SaveAssessment(ctx, res)
		})
		if err != nil {
			p.logger.Warn("assessment archive failed", "session", res.SessionID, "error", err)
		}
	}
}

func (p *Pipeline) emit(res *pattern.Result) {
	if p.hub == nil {
		return
	}
	p.hub.BroadcastSessionScored(res)
	if len(res.Patterns) > 0 {
		p.hub.BroadcastPatternDetected(res)
	}
}

// Result returns a previously computed session assessment, or
// store.ErrNotFound if it expired or never existed.
func (p *Pipeline) Result(ctx context.Context, sessionID string) (*pattern.Result, error) {
	data, err := p.kv.Get(ctx, resultKey(sessionID))
	if err != nil {
		return nil, err
	}
	var res pattern.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("pipeline: decode result %s: %w", sessionID, err)
	}
	return &res, nil
}

// Forecast builds a series from the business's session history and runs the
// ensemble over it. Fraud-risk forecasts use the retained anomaly scores.
func (p *Pipeline) Forecast(ctx context.Context, businessID string, metric forecast.Metric) (*forecast.BusinessForecast, error) {
	recs, err := p.businesses.Recent(ctx, businessID, 0)
	if err != nil {
		return nil, err
	}

	var scores map[string]float64
	if metric == forecast.MetricFraudRisk {
		scores = p.scoreSnapshot()
	}
	series, err := forecast.BuildSeries(recs, metric, scores)
	if err != nil {
		return nil, err
	}
	return p.forecaster.Forecast(ctx, businessID, metric, series)
}

// InsightsReport is a correlation analysis scoped for one consumer. Scope
// says what the numbers cover: "business" when the analysis ran over that
// business's own sessions, "global" when it fell back to the latest
// cross-business batch.
type InsightsReport struct {
	BusinessID string                `json:"businessId"`
	Scope      string                `json:"scope"`
	BatchID    string                `json:"batchId,omitempty"`
	Analysis   *correlation.Analysis `json:"analysis"`
}

// Insights analyzes the business's own session history when it is large
// enough, and otherwise serves the latest global batch analysis. Returns
// ErrNoAnalysis when neither exists.
func (p *Pipeline) Insights(ctx context.Context, businessID string) (*InsightsReport, error) {
	recs, err := p.businesses.Recent(ctx, businessID, 0)
	if err != nil {
		p.logger.Warn("business history read failed", "business", businessID, "error", err)
	} else if len(recs) > 0 {
		a, aerr := p.engine.Analyze(ctx, recs)
		if aerr == nil {
			return &InsightsReport{BusinessID: businessID, Scope: "business", Analysis: a}, nil
		}
		if !errors.Is(aerr, correlation.ErrInsufficientSample) {
			p.logger.Warn("business analysis failed", "business", businessID, "error", aerr)
		}
	}

	batch := p.LatestBatch()
	if batch == nil || batch.Correlation == nil {
		return nil, ErrNoAnalysis
	}
	return &InsightsReport{
		BusinessID: businessID,
		Scope:      "global",
		BatchID:    batch.ID,
		Analysis:   batch.Correlation,
	}, nil
}

func (p *Pipeline) scoreSnapshot() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.scores))
	for k, v := range p.scores {
		out[k] = v
	}
	return out
}

// Status is a point-in-time view of pipeline health.
type Status struct {
	Accepting     bool      `json:"accepting"`
	Workers       int       `json:"workers"`
	QueueDepth    int       `json:"queueDepth"`
	BufferDepth   int       `json:"bufferDepth"`
	BufferDropped int64     `json:"bufferDropped"`
	Processed     int64     `json:"processed"`
	Rejected      int64     `json:"rejected"`
	FailedJobs    int       `json:"failedJobs"`
	BatchRuns     int64     `json:"batchRuns"`
	LastSessionAt time.Time `json:"lastSessionAt,omitempty"`
	LastBatchAt   time.Time `json:"lastBatchAt,omitempty"`
}

// Status reports queue and buffer depths plus lifetime counters.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	failed := len(p.failedJobs)
	p.mu.Unlock()

	s := Status{
		Workers:       p.cfg.Workers,
		QueueDepth:    len(p.jobs),
		BufferDepth:   p.buf.len(),
		BufferDropped: p.buf.droppedCount(),
		Processed:     p.processed.Load(),
		Rejected:      p.rejected.Load(),
		FailedJobs:    failed,
		BatchRuns:     p.batchRuns.Load(),
	}
	p.submitMu.RLock()
	s.Accepting = p.accepting
	p.submitMu.RUnlock()

	if ns := p.lastSessionAt.Load(); ns > 0 {
		s.LastSessionAt = time.Unix(0, ns)
	}
	if ns := p.lastBatchAt.Load(); ns > 0 {
		s.LastBatchAt = time.Unix(0, ns)
	}
	return s
}

// Shutdown stops intake, drains in-flight jobs until ctx expires, stops the
// batch timer and flushes the remaining buffer through one final batch run.
// The stores are owned by the caller and stay open.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.submitMu.Lock()
	if !p.accepting {
		p.submitMu.Unlock()
		return nil
	}
	p.accepting = false
	close(p.jobs)
	p.submitMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var drainErr error
	select {
	case <-done:
	case <-ctx.Done():
		drainErr = fmt.Errorf("pipeline: drain incomplete: %w", ctx.Err())
	}

	close(p.stopBatch)
	p.batchWG.Wait()

	if p.buf.len() > 0 {
		p.runBatch(ctx)
	}

	p.logger.Info("pipeline stopped", "processed", p.processed.Load(), "batches", p.batchRuns.Load())
	return drainErr
}

func resultKey(sessionID string) string { return "result:" + sessionID }
