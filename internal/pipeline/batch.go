package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/feedbackloop/sentinel/internal/audit"
	"github.com/feedbackloop/sentinel/internal/correlation"
	"github.com/feedbackloop/sentinel/internal/forecast"
	"github.com/feedbackloop/sentinel/internal/idgen"
	"github.com/feedbackloop/sentinel/internal/metrics"
	"github.com/feedbackloop/sentinel/internal/session"
	"github.com/feedbackloop/sentinel/internal/store"
	"github.com/feedbackloop/sentinel/internal/traces"
)

// batchMetrics are the forecasts refreshed on every batch pass. Other
// metrics are computed on demand through Forecast.
var batchMetrics = []forecast.Metric{forecast.MetricRevenue, forecast.MetricSeasonalDemand}

// BatchResult bundles every analytics section produced by one batch run.
// Sections that could not be computed are nil; a batch never fails outright
// because one section did.
type BatchResult struct {
	ID          string                       `json:"id"`
	SampleSize  int                          `json:"sampleSize"`
	Correlation *correlation.Analysis        `json:"correlation,omitempty"`
	Forecasts   []*forecast.BusinessForecast `json:"forecasts,omitempty"`
	Audit       *audit.Report                `json:"audit,omitempty"`
	StartedAt   time.Time                    `json:"startedAt"`
	CompletedAt time.Time                    `json:"completedAt"`
}

// batchLoop owns every batch run. Size-triggered requests arrive on the
// kick channel from ProcessSession; the ticker flushes partial batches.
// Running them here keeps the CPU-bound battery off the ingestion path.
func (p *Pipeline) batchLoop(ctx context.Context) {
	defer p.batchWG.Done()

	ticker := time.NewTicker(p.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.kick:
			p.runBatch(ctx)
		case <-ticker.C:
			p.runBatch(ctx)
		case <-p.stopBatch:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runBatch swaps out the buffer and runs the batch analytics battery over
// the snapshot. Concurrent triggers serialize; a trigger that arrives after
// another run already swapped the buffer sees it empty and returns.
func (p *Pipeline) runBatch(ctx context.Context) {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()

	recs := p.buf.swap()
	if len(recs) == 0 {
		return
	}

	timer := prometheus.NewTimer(metrics.BatchDuration)
	defer timer.ObserveDuration()

	res := &BatchResult{
		ID:         idgen.WithPrefix("batch"),
		SampleSize: len(recs),
		StartedAt:  time.Now(),
	}

	ctx, span := traces.StartSpan(ctx, "pipeline.runBatch",
		traces.BatchID(res.ID), attribute.Int("batch.sample_size", len(recs)))
	defer span.End()

	degraded := false

	analysis, err := p.engine.Analyze(ctx, recs)
	if err != nil {
		degraded = true
		p.logger.Warn("correlation analysis skipped", "batch", res.ID, "error", err)
	} else {
		res.Correlation = analysis
	}

	res.Forecasts = p.batchForecasts(ctx, recs)

	values, historical := p.takeScores(recs)
	if report, err := p.auditor.Run(values, historical); err != nil {
		degraded = true
		p.logger.Warn("audit skipped", "batch", res.ID, "sample", len(values), "error", err)
	} else {
		res.Audit = report
	}

	res.CompletedAt = time.Now()
	p.persistBatch(ctx, res)

	p.mu.Lock()
	p.lastBatch = res
	p.mu.Unlock()
	p.batchRuns.Add(1)
	p.lastBatchAt.Store(res.CompletedAt.UnixNano())

	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	metrics.BatchRunsTotal.WithLabelValues(outcome).Inc()

	if p.hub != nil {
		p.hub.BroadcastBatchCompleted(map[string]any{
			"batchId":    res.ID,
			"sampleSize": res.SampleSize,
			"forecasts":  len(res.Forecasts),
			"durationMs": res.CompletedAt.Sub(res.StartedAt).Milliseconds(),
		})
	}
	p.logger.Info("batch completed",
		"batch", res.ID, "sample", res.SampleSize, "outcome", outcome,
		"duration", res.CompletedAt.Sub(res.StartedAt))
}

// batchForecasts refreshes the standing forecasts for every business seen in
// the batch. Businesses without enough daily history are skipped quietly.
func (p *Pipeline) batchForecasts(ctx context.Context, recs []*session.Record) []*forecast.BusinessForecast {
	seen := make(map[string]bool)
	var out []*forecast.BusinessForecast
	for _, rec := range recs {
		if seen[rec.BusinessID] {
			continue
		}
		seen[rec.BusinessID] = true

		for _, metric := range batchMetrics {
			bf, err := p.Forecast(ctx, rec.BusinessID, metric)
			if err != nil {
				p.logger.Debug("forecast skipped",
					"business", rec.BusinessID, "metric", string(metric), "error", err)
				continue
			}
			out = append(out, bf)
			p.persistForecast(ctx, bf)
		}
	}
	return out
}

// takeScores removes the batch's anomaly scores from the pending map and
// rolls them into the bounded audit baseline. The baseline snapshot returned
// predates this batch.
func (p *Pipeline) takeScores(recs []*session.Record) (values, historical []float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	historical = make([]float64, len(p.scoreHistory))
	copy(historical, p.scoreHistory)

	for _, rec := range recs {
		if score, ok := p.scores[rec.ID]; ok {
			values = append(values, score)
			delete(p.scores, rec.ID)
		}
	}

	p.scoreHistory = append(p.scoreHistory, values...)
	if over := len(p.scoreHistory) - p.cfg.ScoreHistory; over > 0 {
		p.scoreHistory = p.scoreHistory[over:]
	}
	return values, historical
}

func (p *Pipeline) persistBatch(ctx context.Context, res *BatchResult) {
	data, err := json.Marshal(res)
	if err != nil {
		p.logger.Error("batch marshal failed", "batch", res.ID, "error", err)
		return
	}
	for _, key := range []string{"batch:" + res.ID, "batch:latest"} {
		err := p.persist("set", func() error {
			return p.kv.Set(ctx, key, data, store.BatchTTL)
		})
		if err != nil {
			p.logger.Warn("batch persist failed", "batch", res.ID, "key", key, "error", err)
		}
	}
	if p.archive != nil {
		err := p.persist("archive", func() error {
			return p.archive.SaveBatch(ctx, res.ID, res.SampleSize, res)
		})
		if err != nil {
			p.logger.Warn("batch archive failed", "batch", res.ID, "error", err)
		}
	}
}

func (p *Pipeline) persistForecast(ctx context.Context, bf *forecast.BusinessForecast) {
	data, err := json.Marshal(bf)
	if err != nil {
		p.logger.Error("forecast marshal failed", "business", bf.BusinessID, "error", err)
		return
	}
	key := "forecast:" + bf.BusinessID + ":" + string(bf.Metric)
	err = p.persist("set", func() error {
		return p.kv.Set(ctx, key, data, store.BatchTTL)
	})
	if err != nil {
		p.logger.Warn("forecast persist failed", "business", bf.BusinessID, "error", err)
	}
	if p.archive != nil {
		err = p.persist("archive", func() error {
			id := idgen.WithPrefix("fc")
			return p.archive.SaveForecast(ctx, id, bf.BusinessID, string(bf.Metric), bf)
		})
		if err != nil {
			p.logger.Warn("forecast archive failed", "business", bf.BusinessID, "error", err)
		}
	}
}

// LatestBatch returns the most recent batch result, or nil before the first
// run completes.
func (p *Pipeline) LatestBatch() *BatchResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastBatch
}
