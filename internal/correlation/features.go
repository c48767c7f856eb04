package correlation

import (
	"github.com/feedbackloop/sentinel/internal/session"
)

// Group is one of the five dimension families features belong to.
type Group string

const (
	GroupGeographic Group = "geographic"
	GroupTemporal   Group = "temporal"
	GroupBehavioral Group = "behavioral"
	GroupContextual Group = "contextual"
	GroupTechnical  Group = "technical"
)

// Dimension is a named numeric feature with a fixed group and extractor.
// The taxonomy is enumerated here once; nothing downstream looks features up
// by free-form string.
type Dimension struct {
	Name    string
	Group   Group
	extract func(r *session.Record, s *sampleContext) float64
}

// sampleContext carries sample-wide aggregates some extractors need.
type sampleContext struct {
	deviceCounts   map[string]int
	customerCounts map[string]int
}

func newSampleContext(recs []*session.Record) *sampleContext {
	sc := &sampleContext{
		deviceCounts:   make(map[string]int),
		customerCounts: make(map[string]int),
	}
	for _, r := range recs {
		if r.DeviceFingerprint != "" {
			sc.deviceCounts[r.DeviceFingerprint]++
		}
		sc.customerCounts[r.CustomerHash]++
	}
	return sc
}

// Dimensions is the fixed feature taxonomy, ordered. Matrix rows/columns,
// PCA loadings and cluster members all index into this slice.
func Dimensions() []Dimension {
	return []Dimension{
		{"latitude", GroupGeographic, func(r *session.Record, _ *sampleContext) float64 {
			return r.Location.Lat
		}},
		{"longitude", GroupGeographic, func(r *session.Record, _ *sampleContext) float64 {
			return r.Location.Lon
		}},
		{"hour_of_day", GroupTemporal, func(r *session.Record, _ *sampleContext) float64 {
			return float64(r.Timestamp.Hour())
		}},
		{"day_of_week", GroupTemporal, func(r *session.Record, _ *sampleContext) float64 {
			return float64(r.Timestamp.Weekday())
		}},
		{"day_of_month", GroupTemporal, func(r *session.Record, _ *sampleContext) float64 {
			return float64(r.Timestamp.Day())
		}},
		{"quality_score", GroupBehavioral, func(r *session.Record, _ *sampleContext) float64 {
			return r.QualityScore
		}},
		{"transcript_length", GroupBehavioral, func(r *session.Record, _ *sampleContext) float64 {
			return float64(r.TranscriptLength)
		}},
		{"audio_duration", GroupBehavioral, func(r *session.Record, _ *sampleContext) float64 {
			return r.AudioDuration
		}},
		{"speech_density", GroupBehavioral, func(r *session.Record, _ *sampleContext) float64 {
			if r.AudioDuration <= 0 {
				return 0
			}
			return float64(r.TranscriptLength) / r.AudioDuration
		}},
		{"transaction_amount", GroupContextual, func(r *session.Record, _ *sampleContext) float64 {
			return r.TransactionAmount
		}},
		{"customer_frequency", GroupContextual, func(r *session.Record, s *sampleContext) float64 {
			return float64(s.customerCounts[r.CustomerHash])
		}},
		{"device_reuse", GroupTechnical, func(r *session.Record, s *sampleContext) float64 {
			return float64(s.deviceCounts[r.DeviceFingerprint])
		}},
		{"transcription_confidence", GroupTechnical, func(r *session.Record, _ *sampleContext) float64 {
			return r.TranscriptionConfidence
		}},
	}
}

// FeatureMatrix holds aligned numeric columns, one per dimension, over a
// sample of sessions.
type FeatureMatrix struct {
	Dims    []Dimension
	Columns [][]float64 // Columns[i] aligns with Dims[i]; len == sample size
	N       int         // sample size
}

// ExtractFeatures builds the feature matrix for a sample.
func ExtractFeatures(recs []*session.Record) *FeatureMatrix {
	dims := Dimensions()
	sc := newSampleContext(recs)
	cols := make([][]float64, len(dims))
	for i, d := range dims {
		col := make([]float64, len(recs))
		for j, r := range recs {
			col[j] = d.extract(r, sc)
		}
		cols[i] = col
	}
	return &FeatureMatrix{Dims: dims, Columns: cols, N: len(recs)}
}

// Column returns the values for a dimension name, or nil if unknown.
func (m *FeatureMatrix) Column(name string) []float64 {
	for i, d := range m.Dims {
		if d.Name == name {
			return m.Columns[i]
		}
	}
	return nil
}
