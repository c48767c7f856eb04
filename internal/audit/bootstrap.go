package audit

import (
	"math/rand"
	"sort"

	"github.com/feedbackloop/sentinel/internal/stats"
)

// BootstrapReport holds resampled confidence intervals for a sample's mean
// and standard deviation, plus the bootstrap bias estimate.
type BootstrapReport struct {
	Rounds     int     `json:"rounds"`
	MeanLow    float64 `json:"meanLow"`
	MeanHigh   float64 `json:"meanHigh"`
	StdDevLow  float64 `json:"stdDevLow"`
	StdDevHigh float64 `json:"stdDevHigh"`
	Bias       float64 `json:"bias"` // mean of bootstrap means minus sample mean
}

// BootstrapCI resamples with replacement and takes percentile intervals at
// the configured alpha. Seeded for reproducibility.
func (v *Validator) BootstrapCI(values []float64) *BootstrapReport {
	n := len(values)
	rounds := v.cfg.BootstrapRounds
	rng := rand.New(rand.NewSource(v.cfg.Seed))

	means := make([]float64, rounds)
	sds := make([]float64, rounds)
	sample := make([]float64, n)
	for r := 0; r < rounds; r++ {
		for i := range sample {
			sample[i] = values[rng.Intn(n)]
		}
		means[r] = stats.Mean(sample)
		sds[r] = stats.StdDev(sample)
	}
	sort.Float64s(means)
	sort.Float64s(sds)

	loP := v.cfg.Alpha / 2 * 100
	hiP := 100 - loP
	return &BootstrapReport{
		Rounds:     rounds,
		MeanLow:    stats.Percentile(means, loP),
		MeanHigh:   stats.Percentile(means, hiP),
		StdDevLow:  stats.Percentile(sds, loP),
		StdDevHigh: stats.Percentile(sds, hiP),
		Bias:       stats.Mean(means) - stats.Mean(values),
	}
}
