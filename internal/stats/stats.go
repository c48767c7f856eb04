// Package stats provides the statistical primitives shared by the analyzers:
// moments, robust location/scale estimates, correlation, and the
// distribution functions behind significance testing.
//
// Everything here is textbook-exact rather than approximation-by-habit: the
// t and chi-square tails go through the regularized incomplete beta/gamma
// functions, not lookup tables. Each analyzer that needs a p-value calls
// into this package so the math is audited in exactly one place.
package stats

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Variance returns the sample variance (n-1 denominator).
func Variance(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return ss / float64(n-1)
}

// PopVariance returns the population variance (n denominator).
func PopVariance(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return ss / float64(n)
}

// StdDev returns the sample standard deviation.
func StdDev(xs []float64) float64 {
	return math.Sqrt(Variance(xs))
}

// PopStdDev returns the population standard deviation.
func PopStdDev(xs []float64) float64 {
	return math.Sqrt(PopVariance(xs))
}

// Median returns the middle value (mean of the two middle values for even n).
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MAD returns the median absolute deviation from the median.
func MAD(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	med := Median(xs)
	devs := make([]float64, len(xs))
	for i, x := range xs {
		devs[i] = math.Abs(x - med)
	}
	return Median(devs)
}

// Percentile returns the p-th percentile (p in [0,100]) using linear
// interpolation between order statistics.
func Percentile(xs []float64, p float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Skewness returns the adjusted Fisher-Pearson sample skewness.
func Skewness(xs []float64) float64 {
	n := float64(len(xs))
	if n < 3 {
		return 0
	}
	m := Mean(xs)
	s := StdDev(xs)
	if s == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		z := (x - m) / s
		sum += z * z * z
	}
	return n / ((n - 1) * (n - 2)) * sum
}

// Kurtosis returns the excess sample kurtosis (normal = 0).
func Kurtosis(xs []float64) float64 {
	n := float64(len(xs))
	if n < 4 {
		return 0
	}
	m := Mean(xs)
	s := StdDev(xs)
	if s == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		z := (x - m) / s
		sum += z * z * z * z
	}
	a := n * (n + 1) / ((n - 1) * (n - 2) * (n - 3))
	b := 3 * (n - 1) * (n - 1) / ((n - 2) * (n - 3))
	return a*sum - b
}

// Pearson returns the Pearson correlation coefficient of two equal-length
// slices, or 0 when either has zero variance or fewer than 2 points.
func Pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0
	}
	mx, my := Mean(xs), Mean(ys)
	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		dy := ys[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	r := sxy / math.Sqrt(sxx*syy)
	// Guard against floating-point drift past ±1.
	return math.Max(-1, math.Min(1, r))
}

// CorrelationPValue returns the two-tailed p-value for a Pearson r with the
// given sample size, via the t-statistic r*sqrt((n-2)/(1-r²)).
func CorrelationPValue(r float64, n int) float64 {
	if n < 3 {
		return 1
	}
	rr := r * r
	if rr >= 1 {
		return 0
	}
	t := math.Abs(r) * math.Sqrt(float64(n-2)/(1-rr))
	return 2 * (1 - TCDF(t, float64(n-2)))
}

// FisherCI returns the (lo, hi) confidence interval for a correlation
// coefficient via the Fisher z-transform. level is e.g. 0.95.
func FisherCI(r float64, n int, level float64) (float64, float64) {
	if n < 4 || math.Abs(r) >= 1 {
		return r, r
	}
	z := 0.5 * math.Log((1+r)/(1-r))
	se := 1 / math.Sqrt(float64(n-3))
	crit := NormalQuantile(0.5 + level/2)
	lo := math.Tanh(z - crit*se)
	hi := math.Tanh(z + crit*se)
	return lo, hi
}
