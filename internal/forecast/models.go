package forecast

import (
	"fmt"
	"math"
	"math/rand"
)

// model is one ensemble member.
type model interface {
	name() string
	fit(X [][]float64, y []float64) error
	predict(x []float64) float64
}

// ridgeLambda keeps the normal equations solvable when features are
// collinear (the exogenous indices usually are).
const ridgeLambda = 1e-4

// linearModel is ordinary least squares with a small ridge term.
type linearModel struct {
	coeffs []float64
}

func newLinearModel() *linearModel { return &linearModel{} }

func (m *linearModel) name() string { return "linear" }

func (m *linearModel) fit(X [][]float64, y []float64) error {
	coeffs, err := solveRidge(X, y)
	if err != nil {
		return err
	}
	m.coeffs = coeffs
	return nil
}

func (m *linearModel) predict(x []float64) float64 {
	return dot(m.coeffs, x)
}

// polyModel augments the feature row with the squared trend index before
// fitting a linear model, capturing curvature in the metric.
type polyModel struct {
	inner linearModel
}

func newPolyModel() *polyModel { return &polyModel{} }

func (m *polyModel) name() string { return "polynomial" }

// trendIdx is the position of the linear trend feature in the tuple.
const trendIdx = 1

func augment(x []float64) []float64 {
	out := make([]float64, len(x)+1)
	copy(out, x)
	// Scaled down so the squared term does not dominate the ridge solve.
	out[len(x)] = x[trendIdx] * x[trendIdx] / 100
	return out
}

func (m *polyModel) fit(X [][]float64, y []float64) error {
	aug := make([][]float64, len(X))
	for i, x := range X {
		aug[i] = augment(x)
	}
	return m.inner.fit(aug, y)
}

func (m *polyModel) predict(x []float64) float64 {
	return m.inner.predict(augment(x))
}

// baggedModel averages linear learners fit on bootstrap resamples.
type baggedModel struct {
	size     int
	seed     int64
	learners []*linearModel
}

func newBaggedModel(size int, seed int64) *baggedModel {
	return &baggedModel{size: size, seed: seed}
}

func (m *baggedModel) name() string { return "bagged" }

func (m *baggedModel) fit(X [][]float64, y []float64) error {
	rng := rand.New(rand.NewSource(m.seed))
	n := len(X)
	m.learners = m.learners[:0]
	for b := 0; b < m.size; b++ {
		bx := make([][]float64, n)
		by := make([]float64, n)
		for i := 0; i < n; i++ {
			j := rng.Intn(n)
			bx[i], by[i] = X[j], y[j]
		}
		lm := newLinearModel()
		if err := lm.fit(bx, by); err != nil {
			continue
		}
		m.learners = append(m.learners, lm)
	}
	if len(m.learners) == 0 {
		return fmt.Errorf("bagged: no learner converged")
	}
	return nil
}

func (m *baggedModel) predict(x []float64) float64 {
	sum := 0.0
	for _, lm := range m.learners {
		sum += lm.predict(x)
	}
	return sum / float64(len(m.learners))
}

// stump is a depth-1 regression split.
type stump struct {
	feature     int
	threshold   float64
	left, right float64
}

func (s stump) predict(x []float64) float64 {
	if x[s.feature] <= s.threshold {
		return s.left
	}
	return s.right
}

// boostedModel is simplified gradient boosting: a constant base prediction
// plus shrunken regression stumps fit to successive residuals.
type boostedModel struct {
	rounds int
	rate   float64
	base   float64
	stumps []stump
}

func newBoostedModel(rounds int, rate float64) *boostedModel {
	return &boostedModel{rounds: rounds, rate: rate}
}

func (m *boostedModel) name() string { return "boosted" }

func (m *boostedModel) fit(X [][]float64, y []float64) error {
	n := len(y)
	if n == 0 {
		return fmt.Errorf("boosted: empty sample")
	}
	m.base = 0
	for _, v := range y {
		m.base += v
	}
	m.base /= float64(n)

	residuals := make([]float64, n)
	for i := range y {
		residuals[i] = y[i] - m.base
	}

	m.stumps = m.stumps[:0]
	for round := 0; round < m.rounds; round++ {
		s, ok := bestStump(X, residuals)
		if !ok {
			break
		}
		m.stumps = append(m.stumps, s)
		for i := range residuals {
			residuals[i] -= m.rate * s.predict(X[i])
		}
	}
	return nil
}

func (m *boostedModel) predict(x []float64) float64 {
	v := m.base
	for _, s := range m.stumps {
		v += m.rate * s.predict(x)
	}
	return v
}

// bestStump exhaustively picks the split minimizing residual squared error.
func bestStump(X [][]float64, residuals []float64) (stump, bool) {
	n := len(X)
	if n < 2 {
		return stump{}, false
	}
	d := len(X[0])

	best := stump{}
	bestErr := math.MaxFloat64
	found := false
	for f := 0; f < d; f++ {
		for i := 0; i < n; i++ {
			threshold := X[i][f]
			var sumL, sumR float64
			var nL, nR int
			for j := 0; j < n; j++ {
				if X[j][f] <= threshold {
					sumL += residuals[j]
					nL++
				} else {
					sumR += residuals[j]
					nR++
				}
			}
			if nL == 0 || nR == 0 {
				continue
			}
			left, right := sumL/float64(nL), sumR/float64(nR)
			sse := 0.0
			for j := 0; j < n; j++ {
				var p float64
				if X[j][f] <= threshold {
					p = left
				} else {
					p = right
				}
				diff := residuals[j] - p
				sse += diff * diff
			}
			if sse < bestErr {
				bestErr = sse
				best = stump{feature: f, threshold: threshold, left: left, right: right}
				found = true
			}
		}
	}
	return best, found
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// solveRidge solves (XᵀX + λI)β = Xᵀy by Gaussian elimination with partial
// pivoting.
func solveRidge(X [][]float64, y []float64) ([]float64, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("regression: empty sample")
	}
	d := len(X[0])

	// Normal equations.
	a := make([][]float64, d)
	for i := range a {
		a[i] = make([]float64, d+1)
	}
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			sum := 0.0
			for _, row := range X {
				sum += row[i] * row[j]
			}
			a[i][j] = sum
		}
		a[i][i] += ridgeLambda
		sum := 0.0
		for k, row := range X {
			sum += row[i] * y[k]
		}
		a[i][d] = sum
	}

	// Elimination with partial pivoting.
	for col := 0; col < d; col++ {
		pivot := col
		for r := col + 1; r < d; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("regression: singular system at column %d", col)
		}
		a[col], a[pivot] = a[pivot], a[col]
		for r := 0; r < d; r++ {
			if r == col {
				continue
			}
			factor := a[r][col] / a[col][col]
			for c := col; c <= d; c++ {
				a[r][c] -= factor * a[col][c]
			}
		}
	}

	coeffs := make([]float64, d)
	for i := 0; i < d; i++ {
		coeffs[i] = a[i][d] / a[i][i]
	}
	return coeffs, nil
}
