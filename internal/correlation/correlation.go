// Package correlation implements the cross-dimensional analysis batch pass:
// pairwise correlation with significance testing, PCA, dimensional
// clustering, and the business insights derived from them.
//
// The engine consumes a snapshot of sessions (the drained pipeline buffer)
// and produces a full analysis; a lighter real-time variant scores a single
// session against per-feature reference distributions.
package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/feedbackloop/sentinel/internal/session"
	"github.com/feedbackloop/sentinel/internal/stats"
)

// ErrInsufficientSample is returned when a batch is too small to analyze.
var ErrInsufficientSample = fmt.Errorf("correlation: insufficient sample")

// Significance classes for a correlation coefficient.
type Significance string

const (
	SignificanceVeryStrong Significance = "very_strong"
	SignificanceStrong     Significance = "strong"
	SignificanceModerate   Significance = "moderate"
	SignificanceWeak       Significance = "weak"
	SignificanceVeryWeak   Significance = "very_weak"
	SignificanceNone       Significance = "none"
)

// classify buckets |r|, gated on statistical significance.
func classify(r, p, alpha float64) Significance {
	if p > alpha {
		return SignificanceNone
	}
	abs := math.Abs(r)
	switch {
	case abs >= 0.8:
		return SignificanceVeryStrong
	case abs >= 0.6:
		return SignificanceStrong
	case abs >= 0.4:
		return SignificanceModerate
	case abs >= 0.2:
		return SignificanceWeak
	default:
		return SignificanceVeryWeak
	}
}

// Entry is one cell of the correlation matrix.
type Entry struct {
	Coefficient  float64      `json:"coefficient"`
	PValue       float64      `json:"pValue"`
	Significance Significance `json:"significance"`
	CILow        float64      `json:"ciLow"`
	CIHigh       float64      `json:"ciHigh"`
}

// Matrix is the symmetric dimension-by-dimension correlation matrix.
type Matrix struct {
	Dims    []string           `json:"dims"`
	Entries map[string]Entry   `json:"entries"` // key "a|b" with a <= b
	N       int                `json:"sampleSize"`
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// At returns the entry for a dimension pair (order-insensitive).
func (m *Matrix) At(a, b string) Entry {
	if a == b {
		return Entry{Coefficient: 1, Significance: SignificanceVeryStrong, CILow: 1, CIHigh: 1}
	}
	return m.Entries[pairKey(a, b)]
}

// Relationship is a matrix entry that passed the strength and significance
// thresholds, annotated for consumers.
type Relationship struct {
	DimA           string       `json:"dimA"`
	DimB           string       `json:"dimB"`
	Coefficient    float64      `json:"coefficient"`
	PValue         float64      `json:"pValue"`
	Significance   Significance `json:"significance"`
	BusinessImpact float64      `json:"businessImpact"` // 0-1
	FraudRelevance float64      `json:"fraudRelevance"` // 0-1
	Actionable     bool         `json:"actionable"`
}

// Analysis is the full batch output.
type Analysis struct {
	Matrix        *Matrix           `json:"matrix"`
	Relationships []Relationship    `json:"relationships"`
	PCA           *PCAResult        `json:"pca,omitempty"`
	Clusters      []DimCluster      `json:"clusters,omitempty"`
	Insights      *BusinessInsights `json:"insights"`
	SampleSize    int               `json:"sampleSize"`
	ComputedAt    time.Time         `json:"computedAt"`
}

// Config holds the engine thresholds.
type Config struct {
	MinCorrelation float64 // starting |r| threshold for relationships
	Alpha          float64 // significance level
	MaxComponents  int     // PCA retention cap
	MaxSample      int     // sessions analyzed per batch
}

// Defaults for Config.
const (
	DefaultMinCorrelation = 0.3
	DefaultAlpha          = 0.05
	DefaultMaxComponents  = 5
	DefaultMaxSample      = 500

	// minAnalysisSample is the fewest sessions a batch pass will accept.
	minAnalysisSample = 10

	// thresholdFloor is the lowest the adaptive threshold may drift.
	thresholdFloor = 0.2
)

func (c Config) withDefaults() Config {
	if c.MinCorrelation <= 0 {
		c.MinCorrelation = DefaultMinCorrelation
	}
	if c.Alpha <= 0 {
		c.Alpha = DefaultAlpha
	}
	if c.MaxComponents <= 0 {
		c.MaxComponents = DefaultMaxComponents
	}
	if c.MaxSample <= 0 {
		c.MaxSample = DefaultMaxSample
	}
	return c
}

// Engine computes cross-dimensional analyses. Safe for concurrent use; the
// adaptive threshold is the only mutable state.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	threshold float64 // adaptive minimum |r|
}

// NewEngine creates a correlation engine.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Engine{cfg: cfg, logger: logger, threshold: cfg.MinCorrelation}
}

// Threshold returns the current adaptive minimum-correlation threshold.
func (e *Engine) Threshold() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threshold
}

// Analyze runs the full batch pass over a session sample. Sections that
// cannot be computed (e.g. PCA on a degenerate sample) are omitted rather
// than failing the whole analysis.
func (e *Engine) Analyze(ctx context.Context, recs []*session.Record) (*Analysis, error) {
	if len(recs) < minAnalysisSample {
		return nil, fmt.Errorf("%w: %d sessions, need %d", ErrInsufficientSample, len(recs), minAnalysisSample)
	}
	if len(recs) > e.cfg.MaxSample {
		recs = recs[len(recs)-e.cfg.MaxSample:]
	}

	features := ExtractFeatures(recs)
	matrix := e.buildMatrix(features)
	rels := e.significantRelationships(matrix)

	analysis := &Analysis{
		Matrix:        matrix,
		Relationships: rels,
		SampleSize:    features.N,
		ComputedAt:    time.Now(),
	}

	if pca, err := ComputePCA(features, e.cfg.MaxComponents); err != nil {
		e.logger.Warn("pca skipped", "error", err)
	} else {
		analysis.PCA = pca
	}

	if clusters := e.clusterDimensions(matrix); len(clusters) > 0 {
		analysis.Clusters = clusters
	}

	analysis.Insights = e.buildInsights(analysis)
	e.adaptThreshold(rels)
	return analysis, nil
}

// buildMatrix computes every pairwise Pearson coefficient with its p-value,
// Fisher confidence interval and significance class.
func (e *Engine) buildMatrix(f *FeatureMatrix) *Matrix {
	names := make([]string, len(f.Dims))
	for i, d := range f.Dims {
		names[i] = d.Name
	}
	m := &Matrix{Dims: names, Entries: make(map[string]Entry), N: f.N}

	for i := 0; i < len(f.Dims); i++ {
		for j := i + 1; j < len(f.Dims); j++ {
			r := stats.Pearson(f.Columns[i], f.Columns[j])
			p := stats.CorrelationPValue(r, f.N)
			lo, hi := stats.FisherCI(r, f.N, 0.95)
			m.Entries[pairKey(names[i], names[j])] = Entry{
				Coefficient:  r,
				PValue:       p,
				Significance: classify(r, p, e.cfg.Alpha),
				CILow:        lo,
				CIHigh:       hi,
			}
		}
	}
	return m
}

// Fixed per-group weighting of what matters for business impact and fraud
// relevance. Heuristic, deliberately simple.
var (
	businessImpactWeight = map[Group]float64{
		GroupBehavioral: 0.9,
		GroupContextual: 0.8,
		GroupTemporal:   0.5,
		GroupGeographic: 0.4,
		GroupTechnical:  0.3,
	}
	fraudRelevanceWeight = map[Group]float64{
		GroupTechnical:  0.9,
		GroupGeographic: 0.8,
		GroupBehavioral: 0.6,
		GroupTemporal:   0.5,
		GroupContextual: 0.4,
	}
)

// significantRelationships filters matrix entries through the adaptive
// threshold and scores the survivors.
func (e *Engine) significantRelationships(m *Matrix) []Relationship {
	threshold := e.Threshold()
	groups := dimensionGroups()

	var rels []Relationship
	for i := 0; i < len(m.Dims); i++ {
		for j := i + 1; j < len(m.Dims); j++ {
			entry := m.At(m.Dims[i], m.Dims[j])
			if math.Abs(entry.Coefficient) < threshold || entry.PValue > e.cfg.Alpha {
				continue
			}
			ga, gb := groups[m.Dims[i]], groups[m.Dims[j]]
			strength := math.Abs(entry.Coefficient)
			behavioral := ga == GroupBehavioral || gb == GroupBehavioral
			rels = append(rels, Relationship{
				DimA:           m.Dims[i],
				DimB:           m.Dims[j],
				Coefficient:    entry.Coefficient,
				PValue:         entry.PValue,
				Significance:   entry.Significance,
				BusinessImpact: strength * (businessImpactWeight[ga] + businessImpactWeight[gb]) / 2,
				FraudRelevance: strength * (fraudRelevanceWeight[ga] + fraudRelevanceWeight[gb]) / 2,
				Actionable:     strength > 0.5 && behavioral && entry.PValue < 0.01,
			})
		}
	}
	sort.Slice(rels, func(a, b int) bool {
		return math.Abs(rels[a].Coefficient) > math.Abs(rels[b].Coefficient)
	})
	return rels
}

// adaptThreshold drifts the minimum-correlation threshold toward 80% of the
// mean significant |r| observed this batch, floored at thresholdFloor.
func (e *Engine) adaptThreshold(rels []Relationship) {
	if len(rels) == 0 {
		return
	}
	sum := 0.0
	for _, r := range rels {
		sum += math.Abs(r.Coefficient)
	}
	target := 0.8 * (sum / float64(len(rels)))
	if target < thresholdFloor {
		target = thresholdFloor
	}

	e.mu.Lock()
	// Move halfway toward the target each batch to damp oscillation.
	e.threshold += (target - e.threshold) / 2
	if e.threshold < thresholdFloor {
		e.threshold = thresholdFloor
	}
	e.mu.Unlock()
}

func dimensionGroups() map[string]Group {
	groups := make(map[string]Group)
	for _, d := range Dimensions() {
		groups[d.Name] = d.Group
	}
	return groups
}
