package correlation

import (
	"fmt"
	"math"
	"sort"

	"github.com/feedbackloop/sentinel/internal/stats"
)

// Component is one principal component.
type Component struct {
	Eigenvalue         float64            `json:"eigenvalue"`
	ExplainedVariance  float64            `json:"explainedVariance"`  // fraction of total
	CumulativeVariance float64            `json:"cumulativeVariance"` // running sum
	Loadings           map[string]float64 `json:"loadings"`           // feature -> weight
}

// PCAResult is the output of the dimensionality reduction.
type PCAResult struct {
	Components    []Component `json:"components"`
	TotalVariance float64     `json:"totalVariance"`
	Retained      int         `json:"retained"`
}

// minEigenvalue is the retention cutoff for components.
const minEigenvalue = 0.01

// ComputePCA z-score normalizes each feature column, eigen-decomposes the
// covariance matrix (which is then the correlation matrix), and returns the
// components sorted by explained variance. Constant columns are dropped
// before decomposition.
func ComputePCA(f *FeatureMatrix, maxComponents int) (*PCAResult, error) {
	if f.N < 3 {
		return nil, fmt.Errorf("pca: sample size %d too small", f.N)
	}

	// Keep only columns with variance.
	var names []string
	var normalized [][]float64
	for i, col := range f.Columns {
		sigma := stats.PopStdDev(col)
		if sigma == 0 {
			continue
		}
		mu := stats.Mean(col)
		z := make([]float64, len(col))
		for j, v := range col {
			z[j] = (v - mu) / sigma
		}
		names = append(names, f.Dims[i].Name)
		normalized = append(normalized, z)
	}
	d := len(normalized)
	if d < 2 {
		return nil, fmt.Errorf("pca: only %d non-constant features", d)
	}

	// Covariance of z-scored columns.
	cov := make([][]float64, d)
	for i := range cov {
		cov[i] = make([]float64, d)
		for j := 0; j <= i; j++ {
			c := covariance(normalized[i], normalized[j])
			cov[i][j] = c
			if i != j {
				cov[j][i] = c
			}
		}
	}

	eigenvalues, eigenvectors := jacobiEigen(cov)

	// Sort components by eigenvalue descending.
	order := make([]int, d)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return eigenvalues[order[a]] > eigenvalues[order[b]]
	})

	total := 0.0
	for _, ev := range eigenvalues {
		if ev > 0 {
			total += ev
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("pca: degenerate covariance matrix")
	}

	result := &PCAResult{TotalVariance: total}
	cumulative := 0.0
	for _, idx := range order {
		ev := eigenvalues[idx]
		if ev < minEigenvalue || len(result.Components) >= maxComponents {
			break
		}
		explained := ev / total
		cumulative += explained
		loadings := make(map[string]float64, d)
		for row := 0; row < d; row++ {
			loadings[names[row]] = eigenvectors[row][idx]
		}
		result.Components = append(result.Components, Component{
			Eigenvalue:         ev,
			ExplainedVariance:  explained,
			CumulativeVariance: cumulative,
			Loadings:           loadings,
		})
	}
	result.Retained = len(result.Components)
	return result, nil
}

func covariance(xs, ys []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	mx, my := stats.Mean(xs), stats.Mean(ys)
	sum := 0.0
	for i := range xs {
		sum += (xs[i] - mx) * (ys[i] - my)
	}
	return sum / float64(n-1)
}

// jacobiEigen computes all eigenvalues and eigenvectors of a symmetric
// matrix by cyclic Jacobi rotations. Returns eigenvalues and a matrix whose
// columns are the corresponding eigenvectors.
func jacobiEigen(a [][]float64) ([]float64, [][]float64) {
	n := len(a)

	// Work on a copy; a stays intact for callers.
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		copy(m[i], a[i])
	}

	// Eigenvector accumulator starts as identity.
	v := make([][]float64, n)
	for i := range v {
		v[i] = make([]float64, n)
		v[i][i] = 1
	}

	const maxSweeps = 100
	const tol = 1e-12
	for sweep := 0; sweep < maxSweeps; sweep++ {
		off := 0.0
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				off += m[i][j] * m[i][j]
			}
		}
		if off < tol {
			break
		}

		for p := 0; p < n-1; p++ {
			for q := p + 1; q < n; q++ {
				if math.Abs(m[p][q]) < tol/float64(n*n) {
					continue
				}
				// Rotation angle zeroing m[p][q].
				theta := (m[q][q] - m[p][p]) / (2 * m[p][q])
				t := math.Copysign(1, theta) / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				c := 1 / math.Sqrt(t*t+1)
				s := t * c

				for k := 0; k < n; k++ {
					mkp, mkq := m[k][p], m[k][q]
					m[k][p] = c*mkp - s*mkq
					m[k][q] = s*mkp + c*mkq
				}
				for k := 0; k < n; k++ {
					mpk, mqk := m[p][k], m[q][k]
					m[p][k] = c*mpk - s*mqk
					m[q][k] = s*mpk + c*mqk
				}
				for k := 0; k < n; k++ {
					vkp, vkq := v[k][p], v[k][q]
					v[k][p] = c*vkp - s*vkq
					v[k][q] = s*vkp + c*vkq
				}
			}
		}
	}

	eigenvalues := make([]float64, n)
	for i := 0; i < n; i++ {
		eigenvalues[i] = m[i][i]
	}
	return eigenvalues, v
}
