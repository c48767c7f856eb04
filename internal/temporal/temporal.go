// Package temporal implements time-based anomaly detection over session
// histories: bot-like regular intervals, burst activity, off-hour usage,
// seasonal deviations against learned business profiles, and hourly
// frequency spikes.
package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/feedbackloop/sentinel/internal/history"
	"github.com/feedbackloop/sentinel/internal/pattern"
	"github.com/feedbackloop/sentinel/internal/session"
	"github.com/feedbackloop/sentinel/internal/stats"
)

// Config holds the temporal detection thresholds. Zero values fall back to
// the defaults below.
type Config struct {
	BurstWindow       time.Duration // sliding window for burst detection
	BurstMinimum      int           // sessions in window to call a burst
	IntervalTolerance float64       // CoV below this means bot-like regularity
	SpikeZ            float64       // z threshold for hourly frequency spikes
	Weights           map[pattern.Type]float64
}

// Defaults for Config.
const (
	DefaultBurstWindow       = 10 * time.Minute
	DefaultBurstMinimum      = 4
	DefaultIntervalTolerance = 0.1
	DefaultSpikeZ            = 2.5

	// minIntervals is the fewest inter-arrival gaps that regularity
	// detection will judge.
	minIntervals = 3
)

// offHours are the local hours considered unusual for customer feedback.
var offHours = map[int]bool{
	0: true, 1: true, 2: true, 3: true, 4: true, 5: true,
	22: true, 23: true,
}

// DefaultWeights is the per-type contribution to the temporal score.
func DefaultWeights() map[pattern.Type]float64 {
	return map[pattern.Type]float64{
		pattern.TypeRegularIntervals: 0.8,
		pattern.TypeBurstActivity:    0.7,
		pattern.TypeFrequencySpike:   0.6,
		pattern.TypeUnusualHours:     0.5,
		pattern.TypeSeasonalAnomaly:  0.4,
	}
}

func (c Config) withDefaults() Config {
	if c.BurstWindow <= 0 {
		c.BurstWindow = DefaultBurstWindow
	}
	if c.BurstMinimum <= 0 {
		c.BurstMinimum = DefaultBurstMinimum
	}
	if c.IntervalTolerance <= 0 {
		c.IntervalTolerance = DefaultIntervalTolerance
	}
	if c.SpikeZ <= 0 {
		c.SpikeZ = DefaultSpikeZ
	}
	if c.Weights == nil {
		c.Weights = DefaultWeights()
	}
	return c
}

// Analysis is the temporal verdict for one session.
type Analysis struct {
	Patterns   []pattern.Pattern `json:"patterns"`
	Score      float64           `json:"score"`
	RiskLevel  pattern.RiskLevel `json:"riskLevel"`
	Confidence float64           `json:"confidence"`
}

// Analyzer detects time-based anomalies per customer, consulting the
// business's learned seasonal profile where one exists.
type Analyzer struct {
	histories history.Store
	seasonal  SeasonalStore
	cfg       Config
	logger    *slog.Logger
}

// New creates a temporal analyzer.
func New(histories history.Store, seasonal SeasonalStore, cfg Config, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		histories: histories,
		seasonal:  seasonal,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Analyze scores rec against the customer's prior sessions. The record must
// not yet be appended to the history store.
func (a *Analyzer) Analyze(ctx context.Context, rec *session.Record) (*Analysis, error) {
	prior, err := a.histories.Recent(ctx, rec.CustomerHash, 0)
	if err != nil {
		return nil, fmt.Errorf("temporal: load history for %s: %w", rec.CustomerHash, err)
	}

	var patterns []pattern.Pattern
	if p := a.detectRegularIntervals(rec, prior); p != nil {
		patterns = append(patterns, *p)
	}
	if p := a.detectBurst(rec, prior); p != nil {
		patterns = append(patterns, *p)
	}
	if p := a.detectUnusualHours(rec, prior); p != nil {
		patterns = append(patterns, *p)
	}
	if p := a.detectSeasonalAnomaly(ctx, rec); p != nil {
		patterns = append(patterns, *p)
	}
	if p := a.detectFrequencySpike(rec, prior); p != nil {
		patterns = append(patterns, *p)
	}

	score := pattern.Aggregate(patterns, a.cfg.Weights)
	return &Analysis{
		Patterns:   patterns,
		Score:      score,
		RiskLevel:  pattern.LevelFor(score),
		Confidence: analysisConfidence(patterns, len(prior)),
	}, nil
}

// detectRegularIntervals flags machine-like arrival cadence: a coefficient
// of variation of inter-arrival times below the tolerance over at least
// three intervals.
func (a *Analyzer) detectRegularIntervals(rec *session.Record, prior []*session.Record) *pattern.Pattern {
	times := make([]time.Time, 0, len(prior)+1)
	for _, p := range prior {
		times = append(times, p.Timestamp)
	}
	times = append(times, rec.Timestamp)
	if len(times) < minIntervals+1 {
		return nil
	}

	intervals := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals = append(intervals, times[i].Sub(times[i-1]).Seconds())
	}

	mean := stats.Mean(intervals)
	if mean <= 0 {
		return nil
	}
	cov := stats.PopStdDev(intervals) / mean
	if cov >= a.cfg.IntervalTolerance {
		return nil
	}

	return &pattern.Pattern{
		Type:       pattern.TypeRegularIntervals,
		Confidence: math.Min(0.95, 1-cov*5),
		Start:      times[0],
		End:        rec.Timestamp,
		SessionIDs: sessionIDs(prior, rec),
		Reason: fmt.Sprintf("%d sessions at near-constant %.0fs intervals (CoV %.3f)",
			len(times), mean, cov),
		Metadata: map[string]any{
			"meanIntervalSeconds": mean,
			"cov":                 cov,
			"intervals":           len(intervals),
		},
	}
}

// detectBurst counts sessions inside the sliding window ending at rec.
func (a *Analyzer) detectBurst(rec *session.Record, prior []*session.Record) *pattern.Pattern {
	windowStart := rec.Timestamp.Add(-a.cfg.BurstWindow)
	count := 1 // rec itself
	var ids []string
	earliest := rec.Timestamp
	for _, p := range prior {
		if !p.Timestamp.Before(windowStart) && !p.Timestamp.After(rec.Timestamp) {
			count++
			ids = append(ids, p.ID)
			if p.Timestamp.Before(earliest) {
				earliest = p.Timestamp
			}
		}
	}
	if count < a.cfg.BurstMinimum {
		return nil
	}

	return &pattern.Pattern{
		Type:       pattern.TypeBurstActivity,
		Confidence: math.Min(0.95, float64(count)/10),
		Start:      earliest,
		End:        rec.Timestamp,
		SessionIDs: append(ids, rec.ID),
		Reason:     fmt.Sprintf("%d sessions within %s", count, a.cfg.BurstWindow),
		Metadata: map[string]any{
			"count":         count,
			"windowMinutes": a.cfg.BurstWindow.Minutes(),
		},
	}
}

// detectUnusualHours flags off-hour sessions once the customer has shown the
// habit at least twice before.
func (a *Analyzer) detectUnusualHours(rec *session.Record, prior []*session.Record) *pattern.Pattern {
	if !offHours[rec.Timestamp.Hour()] {
		return nil
	}
	histCount := 0
	for _, p := range prior {
		if offHours[p.Timestamp.Hour()] {
			histCount++
		}
	}
	if histCount < 2 {
		return nil
	}

	return &pattern.Pattern{
		Type:       pattern.TypeUnusualHours,
		Confidence: math.Min(0.9, 0.4+float64(histCount)*0.05),
		Start:      rec.Timestamp,
		End:        rec.Timestamp,
		SessionIDs: []string{rec.ID},
		Reason:     fmt.Sprintf("session at %02d:00 with %d prior off-hour sessions", rec.Timestamp.Hour(), histCount),
		Metadata: map[string]any{
			"hour":              rec.Timestamp.Hour(),
			"priorOffHourCount": histCount,
		},
	}
}

// detectSeasonalAnomaly compares the session's hour/day/month against the
// business's learned typical sets, accumulating mismatch penalties.
func (a *Analyzer) detectSeasonalAnomaly(ctx context.Context, rec *session.Record) *pattern.Pattern {
	if a.seasonal == nil {
		return nil
	}
	profile, err := a.seasonal.Get(ctx, rec.BusinessID)
	if err != nil || profile == nil {
		return nil
	}

	penalty := 0.0
	var mismatches []string
	if !profile.TypicalHour(rec.Timestamp.Hour()) {
		penalty += 0.3
		mismatches = append(mismatches, "hour")
	}
	if !profile.TypicalDay(rec.Timestamp.Weekday()) {
		penalty += 0.2
		mismatches = append(mismatches, "day")
	}
	if !profile.TypicalMonth(rec.Timestamp.Month()) {
		penalty += 0.2
		mismatches = append(mismatches, "month")
	}
	if penalty <= 0.3 {
		return nil
	}

	return &pattern.Pattern{
		Type:       pattern.TypeSeasonalAnomaly,
		Confidence: math.Min(0.9, penalty),
		Start:      rec.Timestamp,
		End:        rec.Timestamp,
		SessionIDs: []string{rec.ID},
		Reason:     fmt.Sprintf("session outside business's typical %v", mismatches),
		Metadata: map[string]any{
			"penalty":    penalty,
			"mismatches": mismatches,
		},
	}
}

// detectFrequencySpike buckets the customer's history by hour and z-scores
// the bucket containing rec.
func (a *Analyzer) detectFrequencySpike(rec *session.Record, prior []*session.Record) *pattern.Pattern {
	if len(prior) < 6 {
		return nil
	}

	buckets := make(map[int64]float64)
	hourOf := func(t time.Time) int64 { return t.Unix() / 3600 }
	for _, p := range prior {
		buckets[hourOf(p.Timestamp)]++
	}
	buckets[hourOf(rec.Timestamp)]++

	counts := make([]float64, 0, len(buckets))
	for _, c := range buckets {
		counts = append(counts, c)
	}
	mean := stats.Mean(counts)
	sigma := stats.PopStdDev(counts)
	if sigma == 0 {
		return nil
	}

	current := buckets[hourOf(rec.Timestamp)]
	z := (current - mean) / sigma
	if z <= a.cfg.SpikeZ || current <= 1.5*mean {
		return nil
	}

	return &pattern.Pattern{
		Type:       pattern.TypeFrequencySpike,
		Confidence: math.Min(0.9, z/5),
		Start:      rec.Timestamp.Truncate(time.Hour),
		End:        rec.Timestamp,
		SessionIDs: []string{rec.ID},
		Reason:     fmt.Sprintf("%.0f sessions this hour vs %.1f hourly mean (z=%.1f)", current, mean, z),
		Metadata: map[string]any{
			"hourlyCount": current,
			"hourlyMean":  mean,
			"zScore":      z,
		},
	}
}

func sessionIDs(prior []*session.Record, rec *session.Record) []string {
	ids := make([]string, 0, len(prior)+1)
	for _, p := range prior {
		ids = append(ids, p.ID)
	}
	return append(ids, rec.ID)
}

func analysisConfidence(patterns []pattern.Pattern, historyLen int) float64 {
	base := math.Min(0.9, 0.3+float64(historyLen)/50*0.6)
	if len(patterns) == 0 {
		return base
	}
	max := 0.0
	for _, p := range patterns {
		if p.Confidence > max {
			max = p.Confidence
		}
	}
	return math.Min(0.95, (base+max)/2+0.2)
}
