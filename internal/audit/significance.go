package audit

import (
	"github.com/feedbackloop/sentinel/internal/stats"
)

// SignificanceReport holds the hypothesis-test battery against a
// historical baseline.
type SignificanceReport struct {
	TTest       *stats.TestResult `json:"tTest,omitempty"`
	ChiSquare   *stats.TestResult `json:"chiSquare,omitempty"`
	MannWhitney *stats.TestResult `json:"mannWhitney,omitempty"`
	AnyShift    bool              `json:"anyShift"` // any test significant
}

// mannWhitneyMinimum is the per-sample size both groups need.
const mannWhitneyMinimum = 10

// TestSignificance compares current values to the historical sample: a
// one-sample t-test against the historical mean, a chi-square
// goodness-of-fit of the binned value frequencies against the historical
// ones, and Mann-Whitney U when both samples are large enough.
func (v *Validator) TestSignificance(values, historical []float64) *SignificanceReport {
	report := &SignificanceReport{}

	t := stats.OneSampleT(values, stats.Mean(historical), v.cfg.Alpha)
	report.TTest = &t

	if observed, expected, ok := binFrequencies(values, historical); ok {
		chi := stats.ChiSquareGOF(observed, expected, v.cfg.Alpha)
		report.ChiSquare = &chi
	}

	if len(values) > mannWhitneyMinimum && len(historical) > mannWhitneyMinimum {
		mw := stats.MannWhitneyU(values, historical, v.cfg.Alpha)
		report.MannWhitney = &mw
	}

	report.AnyShift = (report.TTest != nil && report.TTest.Significant) ||
		(report.ChiSquare != nil && report.ChiSquare.Significant) ||
		(report.MannWhitney != nil && report.MannWhitney.Significant)
	return report
}

// frequencyBins is the bin count for the chi-square comparison.
const frequencyBins = 8

// binFrequencies bins both samples over the historical range. Expected
// counts are scaled to the current sample size. Returns false when the
// historical range is degenerate.
func binFrequencies(values, historical []float64) (observed, expected []float64, ok bool) {
	lo, hi := historical[0], historical[0]
	for _, x := range historical {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	if hi == lo {
		return nil, nil, false
	}
	width := (hi - lo) / frequencyBins

	binOf := func(x float64) int {
		b := int((x - lo) / width)
		if b < 0 {
			b = 0
		}
		if b >= frequencyBins {
			b = frequencyBins - 1
		}
		return b
	}

	histCounts := make([]float64, frequencyBins)
	for _, x := range historical {
		histCounts[binOf(x)]++
	}
	observed = make([]float64, frequencyBins)
	for _, x := range values {
		observed[binOf(x)]++
	}
	scale := float64(len(values)) / float64(len(historical))
	expected = make([]float64, frequencyBins)
	for i, c := range histCounts {
		expected[i] = c * scale
	}
	return observed, expected, true
}
