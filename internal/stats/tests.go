package stats

import (
	"math"
	"sort"
)

// TestResult is the outcome of a hypothesis test.
type TestResult struct {
	Statistic   float64 `json:"statistic"`
	PValue      float64 `json:"pValue"`
	Significant bool    `json:"significant"`
}

// OneSampleT tests whether the mean of xs differs from mu (two-tailed).
func OneSampleT(xs []float64, mu, alpha float64) TestResult {
	n := len(xs)
	if n < 2 {
		return TestResult{PValue: 1}
	}
	s := StdDev(xs)
	if s == 0 {
		// Degenerate sample: either exactly mu or trivially different.
		if Mean(xs) == mu {
			return TestResult{PValue: 1}
		}
		return TestResult{Statistic: math.Inf(1), PValue: 0, Significant: true}
	}
	t := (Mean(xs) - mu) / (s / math.Sqrt(float64(n)))
	p := 2 * (1 - TCDF(math.Abs(t), float64(n-1)))
	return TestResult{Statistic: t, PValue: p, Significant: p <= alpha}
}

// ChiSquareGOF tests observed counts against expected counts. Categories
// with expected count 0 are skipped.
func ChiSquareGOF(observed, expected []float64, alpha float64) TestResult {
	if len(observed) != len(expected) || len(observed) < 2 {
		return TestResult{PValue: 1}
	}
	chi2 := 0.0
	df := -1
	for i := range observed {
		if expected[i] <= 0 {
			continue
		}
		d := observed[i] - expected[i]
		chi2 += d * d / expected[i]
		df++
	}
	if df < 1 {
		return TestResult{PValue: 1}
	}
	p := 1 - ChiSquareCDF(chi2, float64(df))
	return TestResult{Statistic: chi2, PValue: p, Significant: p <= alpha}
}

// MannWhitneyU performs the two-sided Mann-Whitney U test with the normal
// approximation (valid for both samples > 10, which callers enforce).
// Ties receive the average rank.
func MannWhitneyU(xs, ys []float64, alpha float64) TestResult {
	n1, n2 := len(xs), len(ys)
	if n1 == 0 || n2 == 0 {
		return TestResult{PValue: 1}
	}

	type obs struct {
		v     float64
		first bool
	}
	all := make([]obs, 0, n1+n2)
	for _, x := range xs {
		all = append(all, obs{x, true})
	}
	for _, y := range ys {
		all = append(all, obs{y, false})
	}
	idx := make([]int, len(all))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return all[idx[a]].v < all[idx[b]].v })

	// Average ranks over tie runs.
	ranks := make([]float64, len(all))
	for i := 0; i < len(all); {
		j := i
		for j < len(all) && all[idx[j]].v == all[idx[i]].v {
			j++
		}
		avg := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		i = j
	}

	r1 := 0.0
	for i, o := range all {
		if o.first {
			r1 += ranks[i]
		}
	}
	u1 := r1 - float64(n1)*float64(n1+1)/2
	mu := float64(n1) * float64(n2) / 2
	sigma := math.Sqrt(float64(n1) * float64(n2) * float64(n1+n2+1) / 12)
	if sigma == 0 {
		return TestResult{PValue: 1}
	}
	z := (u1 - mu) / sigma
	p := 2 * (1 - NormalCDF(math.Abs(z)))
	return TestResult{Statistic: u1, PValue: p, Significant: p <= alpha}
}
