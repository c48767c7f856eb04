package audit

import (
	"math"

	"github.com/feedbackloop/sentinel/internal/stats"
)

// Shape classifies a sample distribution.
type Shape string

const (
	ShapeNormal    Shape = "normal"
	ShapeSkewed    Shape = "skewed"
	ShapeHeavyTail Shape = "heavy_tailed"
)

// DistributionSummary describes a sample's shape.
type DistributionSummary struct {
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"stdDev"`
	Median   float64 `json:"median"`
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"` // excess
	Shape    Shape   `json:"shape"`
	Normal   bool    `json:"normal"`   // Jarque-Bera at alpha
	JBStat   float64 `json:"jbStat"`
	JBPValue float64 `json:"jbPValue"`
}

// Shape classification cutoffs.
const (
	skewCutoff     = 0.5
	kurtosisCutoff = 1.0
)

// AnalyzeDistribution computes moments, classifies the shape, and runs a
// Jarque-Bera normality check.
func (v *Validator) AnalyzeDistribution(values []float64) *DistributionSummary {
	skew := stats.Skewness(values)
	kurt := stats.Kurtosis(values)

	shape := ShapeNormal
	switch {
	case math.Abs(kurt) > kurtosisCutoff:
		shape = ShapeHeavyTail
	case math.Abs(skew) > skewCutoff:
		shape = ShapeSkewed
	}

	// Jarque-Bera: n/6 (S² + K²/4) is chi-square with 2 df under
	// normality.
	n := float64(len(values))
	jb := n / 6 * (skew*skew + kurt*kurt/4)
	p := 1 - stats.ChiSquareCDF(jb, 2)

	return &DistributionSummary{
		Mean:     stats.Mean(values),
		StdDev:   stats.StdDev(values),
		Median:   stats.Median(values),
		Skewness: skew,
		Kurtosis: kurt,
		Shape:    shape,
		Normal:   p > v.cfg.Alpha,
		JBStat:   jb,
		JBPValue: p,
	}
}
