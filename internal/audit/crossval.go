package audit

import (
	"fmt"
	"math"

	"github.com/feedbackloop/sentinel/internal/stats"
)

// DetectorCV reports k-fold validation of the outlier detector: each fold's
// held-out points are flagged using thresholds derived only from the
// training folds, and scored against the full-sample consensus verdict.
type DetectorCV struct {
	FoldScores []float64 `json:"foldScores"` // agreement fraction per fold
	Mean       float64   `json:"mean"`
	StdError   float64   `json:"stdError"`
	CILow      float64   `json:"ciLow"`
	CIHigh     float64   `json:"ciHigh"`
}

// CrossValidateDetector checks the stability of the z-score stage. A
// detector whose train-derived flags keep agreeing with the full-sample
// consensus generalizes; one that flips fold to fold is overfit to the
// sample.
func (v *Validator) CrossValidateDetector(values []float64) (*DetectorCV, error) {
	n := len(values)
	k := v.cfg.Folds
	if k > n/2 {
		k = n / 2
	}
	if k < 2 {
		return nil, fmt.Errorf("audit: %d values cannot support cross-validation", n)
	}

	consensus := make([]bool, n)
	for _, o := range v.DetectOutliers(values).Outliers {
		consensus[o.Index] = true
	}

	cv := &DetectorCV{}
	foldSize := n / k
	for fold := 0; fold < k; fold++ {
		lo := fold * foldSize
		hi := lo + foldSize
		if fold == k-1 {
			hi = n
		}

		var train []float64
		for i := 0; i < n; i++ {
			if i < lo || i >= hi {
				train = append(train, values[i])
			}
		}
		mean := stats.Mean(train)
		sd := stats.StdDev(train)

		agree := 0
		for i := lo; i < hi; i++ {
			flagged := sd > 0 && math.Abs(values[i]-mean)/sd > v.cfg.ZThreshold
			if flagged == consensus[i] {
				agree++
			}
		}
		cv.FoldScores = append(cv.FoldScores, float64(agree)/float64(hi-lo))
	}

	cv.Mean = stats.Mean(cv.FoldScores)
	if len(cv.FoldScores) > 1 {
		cv.StdError = stats.StdDev(cv.FoldScores) / math.Sqrt(float64(len(cv.FoldScores)))
	}
	cv.CILow = cv.Mean - 1.96*cv.StdError
	cv.CIHigh = cv.Mean + 1.96*cv.StdError
	return cv, nil
}
