package audit

import (
	"math"
	"sort"

	"github.com/feedbackloop/sentinel/internal/stats"
)

// Method names the four outlier detectors.
type Method string

const (
	MethodZScore    Method = "z_score"
	MethodModifiedZ Method = "modified_z"
	MethodIQR       Method = "iqr"
	MethodIsolation Method = "isolation"
)

// Fixed ensemble weights per method.
var methodWeights = map[Method]float64{
	MethodZScore:    0.30,
	MethodModifiedZ: 0.25,
	MethodIQR:       0.25,
	MethodIsolation: 0.20,
}

// Outlier is one consensus-flagged point.
type Outlier struct {
	Index   int      `json:"index"`
	Value   float64  `json:"value"`
	Methods []Method `json:"methods"`
	Score   float64  `json:"score"` // weighted ensemble score, 0-1
}

// OutlierReport is the consensus result over a sample.
type OutlierReport struct {
	Outliers      []Outlier `json:"outliers,omitempty"`
	ConsensusRate float64   `json:"consensusRate"` // flagged fraction
	Valid         bool      `json:"valid"`         // rate under MaxOutlierRate
}

// DetectOutliers runs all four methods and keeps points flagged by at
// least ConsensusMinimum of them. Each kept point carries its continuous
// ensemble score from the fixed method weights; use EnsembleScore for the
// scores of every point.
func (v *Validator) DetectOutliers(values []float64) *OutlierReport {
	n := len(values)
	flags := map[Method][]bool{
		MethodZScore:    v.zScoreFlags(values),
		MethodModifiedZ: v.modifiedZFlags(values),
		MethodIQR:       v.iqrFlags(values),
		MethodIsolation: v.isolationFlags(values),
	}
	scores := map[Method][]float64{
		MethodZScore:    v.zScoreScores(values),
		MethodModifiedZ: v.modifiedZScores(values),
		MethodIQR:       v.iqrScores(values),
		MethodIsolation: v.isolationScores(values),
	}

	report := &OutlierReport{}
	for i := 0; i < n; i++ {
		var agreeing []Method
		score := 0.0
		for method, f := range flags {
			if f[i] {
				agreeing = append(agreeing, method)
			}
			score += methodWeights[method] * scores[method][i]
		}
		if len(agreeing) < v.cfg.ConsensusMinimum {
			continue
		}
		sort.Slice(agreeing, func(a, b int) bool { return agreeing[a] < agreeing[b] })
		report.Outliers = append(report.Outliers, Outlier{
			Index:   i,
			Value:   values[i],
			Methods: agreeing,
			Score:   math.Min(1, score),
		})
	}
	report.ConsensusRate = float64(len(report.Outliers)) / float64(n)
	report.Valid = report.ConsensusRate < v.cfg.MaxOutlierRate
	return report
}

// EnsembleScore returns the weighted anomaly score for every point,
// regardless of consensus.
func (v *Validator) EnsembleScore(values []float64) []float64 {
	scores := map[Method][]float64{
		MethodZScore:    v.zScoreScores(values),
		MethodModifiedZ: v.modifiedZScores(values),
		MethodIQR:       v.iqrScores(values),
		MethodIsolation: v.isolationScores(values),
	}
	out := make([]float64, len(values))
	for i := range values {
		sum := 0.0
		for method, s := range scores {
			sum += methodWeights[method] * s[i]
		}
		out[i] = math.Min(1, sum)
	}
	return out
}

func (v *Validator) zScoreFlags(values []float64) []bool {
	mean := stats.Mean(values)
	sd := stats.StdDev(values)
	flags := make([]bool, len(values))
	if sd == 0 {
		return flags
	}
	for i, x := range values {
		flags[i] = math.Abs(x-mean)/sd > v.cfg.ZThreshold
	}
	return flags
}

func (v *Validator) zScoreScores(values []float64) []float64 {
	mean := stats.Mean(values)
	sd := stats.StdDev(values)
	scores := make([]float64, len(values))
	if sd == 0 {
		return scores
	}
	for i, x := range values {
		scores[i] = math.Min(1, math.Abs(x-mean)/sd/(v.cfg.ZThreshold*2))
	}
	return scores
}

// madScale converts a MAD to a consistent sigma estimate for normal data.
const madScale = 0.6745

func (v *Validator) modifiedZFlags(values []float64) []bool {
	med := stats.Median(values)
	mad := stats.MAD(values)
	flags := make([]bool, len(values))
	if mad == 0 {
		return flags
	}
	for i, x := range values {
		flags[i] = math.Abs(madScale*(x-med)/mad) > v.cfg.ModifiedZThreshold
	}
	return flags
}

func (v *Validator) modifiedZScores(values []float64) []float64 {
	med := stats.Median(values)
	mad := stats.MAD(values)
	scores := make([]float64, len(values))
	if mad == 0 {
		return scores
	}
	for i, x := range values {
		mz := math.Abs(madScale * (x - med) / mad)
		scores[i] = math.Min(1, mz/(v.cfg.ModifiedZThreshold*2))
	}
	return scores
}

func (v *Validator) iqrBounds(values []float64) (float64, float64) {
	q1 := stats.Percentile(values, 25)
	q3 := stats.Percentile(values, 75)
	iqr := q3 - q1
	return q1 - v.cfg.IQRMultiplier*iqr, q3 + v.cfg.IQRMultiplier*iqr
}

func (v *Validator) iqrFlags(values []float64) []bool {
	lo, hi := v.iqrBounds(values)
	flags := make([]bool, len(values))
	for i, x := range values {
		flags[i] = x < lo || x > hi
	}
	return flags
}

func (v *Validator) iqrScores(values []float64) []float64 {
	lo, hi := v.iqrBounds(values)
	span := hi - lo
	scores := make([]float64, len(values))
	if span == 0 {
		return scores
	}
	for i, x := range values {
		var excess float64
		switch {
		case x < lo:
			excess = lo - x
		case x > hi:
			excess = x - hi
		}
		scores[i] = math.Min(1, excess/span)
	}
	return scores
}

// isolationScores approximates isolation: a point's mean distance to all
// other points, normalized by the largest such mean. Values near 1 sit far
// from everything.
func (v *Validator) isolationScores(values []float64) []float64 {
	n := len(values)
	avg := make([]float64, n)
	maxAvg := 0.0
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < n; j++ {
			sum += math.Abs(values[i] - values[j])
		}
		avg[i] = sum / float64(n-1)
		if avg[i] > maxAvg {
			maxAvg = avg[i]
		}
	}
	scores := make([]float64, n)
	if maxAvg == 0 {
		return scores
	}
	for i := range avg {
		scores[i] = avg[i] / maxAvg
	}
	return scores
}

func (v *Validator) isolationFlags(values []float64) []bool {
	scores := v.isolationScores(values)
	flags := make([]bool, len(values))
	for i, s := range scores {
		flags[i] = s > v.cfg.IsolationRatio
	}
	return flags
}
