package correlation

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/feedbackloop/sentinel/internal/pattern"
	"github.com/feedbackloop/sentinel/internal/session"
	"github.com/feedbackloop/sentinel/internal/stats"
)

// Real-time scoring thresholds.
const (
	// deviationZ is the |z| at which a single feature counts as deviant.
	deviationZ = 2.5

	// severeDeviation is the severity at which a feature is named in the
	// emitted pattern.
	severeDeviation = 0.7

	// minReference is the fewest reference sessions needed before the
	// scorer produces non-neutral output.
	minReference = 20

	// referenceWindow caps the per-business reference sample.
	referenceWindow = 300

	// referenceMaxAge invalidates stale cached distributions.
	referenceMaxAge = time.Hour
)

// FeatureDeviation is one feature's distance from its reference
// distribution.
type FeatureDeviation struct {
	Dimension string  `json:"dimension"`
	Value     float64 `json:"value"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"stdDev"`
	ZScore    float64 `json:"zScore"`
	Severity  float64 `json:"severity"` // 0-1
}

// DeviationReport is the real-time cross-dimensional result for one session.
type DeviationReport struct {
	SessionID  string             `json:"sessionId"`
	BusinessID string             `json:"businessId"`
	RiskScore  float64            `json:"riskScore"` // 0-1
	Deviations []FeatureDeviation `json:"deviations,omitempty"`
	Pattern    *pattern.Pattern   `json:"pattern,omitempty"`
	Reference  int                `json:"referenceSize"`
}

// referenceStats is a cached per-business snapshot of feature distributions.
type referenceStats struct {
	means   map[string]float64
	stddevs map[string]float64
	size    int
	builtAt time.Time
}

// RealtimeScorer checks a session against its business's recent feature
// distributions without running the full batch analysis. Reference windows
// are rebuilt lazily from appended sessions and cached per business.
type RealtimeScorer struct {
	mu      sync.RWMutex
	windows map[string][]*session.Record // businessID -> recent sessions
	cache   map[string]*referenceStats
}

// NewRealtimeScorer creates an empty scorer.
func NewRealtimeScorer() *RealtimeScorer {
	return &RealtimeScorer{
		windows: make(map[string][]*session.Record),
		cache:   make(map[string]*referenceStats),
	}
}

// Observe adds a session to its business's reference window. Call after
// scoring so a record never contributes to its own baseline.
func (s *RealtimeScorer) Observe(rec *session.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := append(s.windows[rec.BusinessID], rec)
	if len(w) > referenceWindow {
		w = w[len(w)-referenceWindow:]
	}
	s.windows[rec.BusinessID] = w
	delete(s.cache, rec.BusinessID)
}

// Score compares a session's features to the business reference
// distributions. With too few reference sessions the report is neutral.
func (s *RealtimeScorer) Score(rec *session.Record) *DeviationReport {
	ref := s.reference(rec.BusinessID)
	report := &DeviationReport{
		SessionID:  rec.ID,
		BusinessID: rec.BusinessID,
	}
	if ref == nil {
		return report
	}
	report.Reference = ref.size

	sc := &sampleContext{
		deviceCounts:   map[string]int{rec.DeviceFingerprint: 1},
		customerCounts: map[string]int{rec.CustomerHash: 1},
	}

	var severe []FeatureDeviation
	sum := 0.0
	for _, dim := range Dimensions() {
		sigma := ref.stddevs[dim.Name]
		if sigma == 0 {
			continue
		}
		v := dim.extract(rec, sc)
		z := (v - ref.means[dim.Name]) / sigma
		if math.Abs(z) <= deviationZ {
			continue
		}
		severity := math.Min(1, math.Abs(z)/(deviationZ*2))
		dev := FeatureDeviation{
			Dimension: dim.Name,
			Value:     v,
			Mean:      ref.means[dim.Name],
			StdDev:    sigma,
			ZScore:    z,
			Severity:  severity,
		}
		report.Deviations = append(report.Deviations, dev)
		if severity > severeDeviation {
			severe = append(severe, dev)
		}
		sum += severity
	}

	if len(report.Deviations) > 0 {
		// Diminishing returns past three deviant features.
		report.RiskScore = math.Min(1, sum/3)
	}

	if len(severe) > 0 {
		names := make([]string, len(severe))
		meta := make(map[string]any, len(severe))
		for i, d := range severe {
			names[i] = d.Dimension
			meta[d.Dimension] = d.ZScore
		}
		report.Pattern = &pattern.Pattern{
			Type:       pattern.TypeFeatureDeviation,
			Confidence: math.Min(0.95, report.RiskScore),
			Start:      rec.Timestamp,
			End:        rec.Timestamp,
			SessionIDs: []string{rec.ID},
			Reason:     fmt.Sprintf("features %v deviate from business baseline", names),
			Metadata:   meta,
		}
	}
	return report
}

// reference returns the cached distribution snapshot for a business,
// rebuilding it if missing or stale. Nil when the window is too small.
func (s *RealtimeScorer) reference(businessID string) *referenceStats {
	s.mu.RLock()
	ref, ok := s.cache[businessID]
	s.mu.RUnlock()
	if ok && time.Since(ref.builtAt) < referenceMaxAge {
		return ref
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	window := s.windows[businessID]
	if len(window) < minReference {
		return nil
	}
	f := ExtractFeatures(window)
	ref = &referenceStats{
		means:   make(map[string]float64, len(f.Dims)),
		stddevs: make(map[string]float64, len(f.Dims)),
		size:    f.N,
		builtAt: time.Now(),
	}
	for i, d := range f.Dims {
		ref.means[d.Name] = stats.Mean(f.Columns[i])
		ref.stddevs[d.Name] = stats.PopStdDev(f.Columns[i])
	}
	s.cache[businessID] = ref
	return ref
}
