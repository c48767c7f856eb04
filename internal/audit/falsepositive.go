package audit

import (
	"fmt"
	"math/rand"

	"github.com/feedbackloop/sentinel/internal/stats"
)

// FPAudit is the result of scoring synthetic normal data.
type FPAudit struct {
	SyntheticN     int     `json:"syntheticN"`
	EmpiricalRate  float64 `json:"empiricalRate"`
	TargetRate     float64 `json:"targetRate"`
	WithinTarget   bool    `json:"withinTarget"`
	Recommendation string  `json:"recommendation"`
}

// AuditFalsePositives generates n synthetic values from a normal
// distribution matching the reference sample's mean and standard
// deviation, runs the consensus detector over them, and compares the
// flagged fraction to the target false-positive rate. Seeded, so reruns
// are identical.
func (v *Validator) AuditFalsePositives(reference []float64, n int) (*FPAudit, error) {
	if len(reference) < minSample {
		return nil, ErrSampleTooSmall
	}
	if n <= 0 {
		n = 500
	}
	mean := stats.Mean(reference)
	sd := stats.StdDev(reference)
	if sd == 0 {
		return nil, fmt.Errorf("audit: reference sample has no spread")
	}

	rng := rand.New(rand.NewSource(v.cfg.Seed))
	synthetic := make([]float64, n)
	for i := range synthetic {
		synthetic[i] = mean + sd*rng.NormFloat64()
	}

	rate := v.DetectOutliers(synthetic).ConsensusRate
	audit := &FPAudit{
		SyntheticN:    n,
		EmpiricalRate: rate,
		TargetRate:    v.cfg.TargetFPR,
		WithinTarget:  rate <= v.cfg.TargetFPR,
	}
	switch {
	case rate > v.cfg.TargetFPR*2:
		audit.Recommendation = "raise outlier thresholds: clean data is being flagged well above target"
	case rate > v.cfg.TargetFPR:
		audit.Recommendation = "consider raising outlier thresholds slightly"
	case rate < v.cfg.TargetFPR/4:
		audit.Recommendation = "thresholds are conservative; lowering them would catch more real anomalies"
	default:
		audit.Recommendation = "thresholds are tuned to the target false-positive rate"
	}
	return audit, nil
}
