package forecast

import (
	"math"

	"github.com/feedbackloop/sentinel/internal/stats"
)

// FoldResult is one held-out fold's error summary.
type FoldResult struct {
	Fold int     `json:"fold"`
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
}

// CVReport summarizes k-fold cross-validation of the blended ensemble.
type CVReport struct {
	Folds    []FoldResult `json:"folds"`
	Accuracy float64      `json:"accuracy"` // 1 - normalized MAE, clamped to [0,1]
	MAE      float64      `json:"mae"`
	MSE      float64      `json:"mse"`
	RMSE     float64      `json:"rmse"`
	R2       float64      `json:"r2"`
}

// crossValidate runs k-fold validation and returns the overall report plus
// each sub-model's own held-out accuracy (used as its ensemble weight).
func (f *Forecaster) crossValidate(X [][]float64, y []float64) (*CVReport, map[string]float64) {
	n := len(y)
	k := f.cfg.Folds
	if k > n/2 {
		k = n / 2
	}
	if k < 2 {
		k = 2
	}

	modelErr := make(map[string]float64)  // summed |err| per sub-model
	modelHits := make(map[string]int)     // held-out points scored per sub-model
	report := &CVReport{}

	var absSum, sqSum float64
	var predicted, actual []float64

	foldSize := n / k
	for fold := 0; fold < k; fold++ {
		lo := fold * foldSize
		hi := lo + foldSize
		if fold == k-1 {
			hi = n
		}

		var trainX [][]float64
		var trainY []float64
		for i := 0; i < n; i++ {
			if i >= lo && i < hi {
				continue
			}
			trainX = append(trainX, X[i])
			trainY = append(trainY, y[i])
		}

		models := f.newModels()
		var fitted []model
		for _, m := range models {
			if err := m.fit(trainX, trainY); err != nil {
				continue
			}
			fitted = append(fitted, m)
		}
		if len(fitted) == 0 {
			continue
		}

		var foldAbs, foldSq float64
		for i := lo; i < hi; i++ {
			// Uniform blend during validation; the weights it produces
			// are what the final blend uses.
			sum := 0.0
			for _, m := range fitted {
				p := m.predict(X[i])
				sum += p
				modelErr[m.name()] += math.Abs(y[i] - p)
				modelHits[m.name()]++
			}
			p := sum / float64(len(fitted))
			diff := y[i] - p
			foldAbs += math.Abs(diff)
			foldSq += diff * diff
			predicted = append(predicted, p)
			actual = append(actual, y[i])
		}
		count := float64(hi - lo)
		report.Folds = append(report.Folds, FoldResult{
			Fold: fold,
			MAE:  foldAbs / count,
			RMSE: math.Sqrt(foldSq / count),
		})
		absSum += foldAbs
		sqSum += foldSq
	}

	scale := meanAbs(y)
	if len(actual) > 0 {
		total := float64(len(actual))
		report.MAE = absSum / total
		report.MSE = sqSum / total
		report.RMSE = math.Sqrt(report.MSE)
		report.R2 = rSquared(actual, predicted)
		report.Accuracy = accuracyFrom(report.MAE, scale)
	}

	accuracies := make(map[string]float64, len(modelErr))
	for name, errSum := range modelErr {
		mae := errSum / float64(modelHits[name])
		accuracies[name] = accuracyFrom(mae, scale)
	}
	return report, accuracies
}

// accuracyFrom maps a mean absolute error to [0,1] relative to the series
// magnitude.
func accuracyFrom(mae, scale float64) float64 {
	if scale == 0 {
		if mae == 0 {
			return 1
		}
		return 0
	}
	acc := 1 - mae/scale
	if acc < 0 {
		return 0
	}
	return acc
}

func meanAbs(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range xs {
		sum += math.Abs(v)
	}
	return sum / float64(len(xs))
}

func rSquared(actual, predicted []float64) float64 {
	mean := stats.Mean(actual)
	var ssRes, ssTot float64
	for i := range actual {
		ssRes += (actual[i] - predicted[i]) * (actual[i] - predicted[i])
		ssTot += (actual[i] - mean) * (actual[i] - mean)
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}
