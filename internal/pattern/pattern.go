// Package pattern defines the anomaly vocabulary shared by the geographic
// and temporal analyzers and the pipeline that merges their findings.
package pattern

import (
	"math"
	"time"

	"github.com/feedbackloop/sentinel/internal/session"
)

// Type tags a detected anomaly.
type Type string

const (
	// Geographic patterns.
	TypeImpossibleTravel  Type = "impossible_travel"
	TypeGeofenceViolation Type = "geofence_violation"
	TypeGeoOutlier        Type = "geographic_outlier"
	TypeLocationCluster   Type = "location_cluster"
	TypeHotspot           Type = "hotspot"
	TypeRouteDeviation    Type = "route_deviation"

	// Temporal patterns.
	TypeRegularIntervals Type = "regular_intervals"
	TypeBurstActivity    Type = "burst_activity"
	TypeUnusualHours     Type = "unusual_hours"
	TypeSeasonalAnomaly  Type = "seasonal_anomaly"
	TypeFrequencySpike   Type = "frequency_spike"

	// Cross-dimensional (real-time correlation deviation).
	TypeFeatureDeviation Type = "feature_deviation"
)

// RiskLevel buckets an anomaly score for the payout decision consumer.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Risk level thresholds on the aggregate anomaly score.
const (
	CriticalThreshold = 0.8
	HighThreshold     = 0.6
	MediumThreshold   = 0.3
)

// LevelFor maps an anomaly score to its risk level.
func LevelFor(score float64) RiskLevel {
	switch {
	case score >= CriticalThreshold:
		return RiskCritical
	case score >= HighThreshold:
		return RiskHigh
	case score >= MediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Pattern is one detected anomaly. Created by an analyzer, read-only after.
type Pattern struct {
	Type       Type           `json:"type"`
	Confidence float64        `json:"confidence"` // 0-1
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	SessionIDs []string       `json:"sessionIds,omitempty"`
	Reason     string         `json:"reason"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Result is the per-session aggregate the payout gate consumes.
type Result struct {
	ID           string                  `json:"id"`
	SessionID    string                  `json:"sessionId"`
	CustomerHash string                  `json:"customerHash"`
	BusinessID   string                  `json:"businessId"`
	AnomalyScore float64                 `json:"anomalyScore"` // 0-1
	RiskLevel    RiskLevel               `json:"riskLevel"`
	Confidence   float64                 `json:"confidence"`
	Quality      *session.QualityMetrics `json:"quality,omitempty"`
	Patterns     []Pattern               `json:"patterns,omitempty"`
	Reasons      []string                `json:"reasons,omitempty"`
	AnalyzedAt   time.Time               `json:"analyzedAt"`
}

// Aggregate combines pattern confidences into one anomaly score using the
// given per-type weight table, clamped to [0, 1]. Types missing from the
// table contribute nothing.
func Aggregate(patterns []Pattern, weights map[Type]float64) float64 {
	score := 0.0
	for _, p := range patterns {
		score += weights[p.Type] * p.Confidence
	}
	return math.Min(1, math.Max(0, score))
}
