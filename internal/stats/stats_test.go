package stats

import (
	"math"
	"testing"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestMoments(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	if m := Mean(xs); m != 5 {
		t.Errorf("mean = %f, want 5", m)
	}
	if s := PopStdDev(xs); !almostEqual(s, 2, 1e-12) {
		t.Errorf("population stddev = %f, want 2", s)
	}
	if med := Median(xs); med != 4.5 {
		t.Errorf("median = %f, want 4.5", med)
	}
}

func TestEmptyInputs(t *testing.T) {
	if Mean(nil) != 0 || StdDev(nil) != 0 || Median(nil) != 0 || MAD(nil) != 0 {
		t.Error("empty inputs should all return 0")
	}
}

func TestMADRobustToOutlier(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5, 1000}
	if mad := MAD(xs); mad > 2 {
		t.Errorf("MAD = %f, should be unaffected by the outlier", mad)
	}
}

func TestPearsonPerfectCorrelation(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	ys := []float64{2, 4, 6, 8, 10}

	if r := Pearson(xs, ys); !almostEqual(r, 1, 1e-12) {
		t.Errorf("perfectly dependent vectors: r = %f, want 1", r)
	}

	neg := []float64{10, 8, 6, 4, 2}
	if r := Pearson(xs, neg); !almostEqual(r, -1, 1e-12) {
		t.Errorf("inverse vectors: r = %f, want -1", r)
	}
}

func TestPearsonZeroVariance(t *testing.T) {
	xs := []float64{1, 2, 3}
	flat := []float64{5, 5, 5}
	if r := Pearson(xs, flat); r != 0 {
		t.Errorf("constant series should give r = 0, got %f", r)
	}
}

func TestNormalCDF(t *testing.T) {
	tests := []struct {
		z, want float64
	}{
		{0, 0.5},
		{1.96, 0.975},
		{-1.96, 0.025},
		{2.5758, 0.995},
	}
	for _, tt := range tests {
		if got := NormalCDF(tt.z); !almostEqual(got, tt.want, 1e-3) {
			t.Errorf("NormalCDF(%f) = %f, want %f", tt.z, got, tt.want)
		}
	}
}

func TestNormalQuantileRoundTrip(t *testing.T) {
	for _, p := range []float64{0.005, 0.025, 0.1, 0.5, 0.9, 0.975, 0.995} {
		z := NormalQuantile(p)
		if got := NormalCDF(z); !almostEqual(got, p, 1e-6) {
			t.Errorf("CDF(Quantile(%f)) = %f", p, got)
		}
	}
}

func TestTCDFKnownValues(t *testing.T) {
	// Critical values: t_{0.975, df} from standard tables.
	tests := []struct {
		t, df float64
	}{
		{12.706, 1},
		{2.776, 4},
		{2.228, 10},
		{2.042, 30},
	}
	for _, tt := range tests {
		if got := TCDF(tt.t, tt.df); !almostEqual(got, 0.975, 1e-3) {
			t.Errorf("TCDF(%f, %f) = %f, want ~0.975", tt.t, tt.df, got)
		}
	}
}

func TestChiSquareCDFKnownValues(t *testing.T) {
	// 95th percentile of chi-square: 3.841 (df=1), 11.070 (df=5).
	if got := ChiSquareCDF(3.841, 1); !almostEqual(got, 0.95, 1e-3) {
		t.Errorf("ChiSquareCDF(3.841, 1) = %f, want ~0.95", got)
	}
	if got := ChiSquareCDF(11.070, 5); !almostEqual(got, 0.95, 1e-3) {
		t.Errorf("ChiSquareCDF(11.070, 5) = %f, want ~0.95", got)
	}
}

func TestCorrelationPValue(t *testing.T) {
	// Strong correlation with decent n should be highly significant.
	if p := CorrelationPValue(0.9, 50); p > 0.001 {
		t.Errorf("p-value for r=0.9 n=50 = %f, want < 0.001", p)
	}
	// Weak correlation with tiny n should not be.
	if p := CorrelationPValue(0.2, 10); p < 0.05 {
		t.Errorf("p-value for r=0.2 n=10 = %f, want > 0.05", p)
	}
}

func TestFisherCIContainsR(t *testing.T) {
	lo, hi := FisherCI(0.6, 40, 0.95)
	if lo >= 0.6 || hi <= 0.6 {
		t.Errorf("CI [%f, %f] should contain r=0.6", lo, hi)
	}
	if lo < -1 || hi > 1 {
		t.Errorf("CI [%f, %f] out of [-1, 1]", lo, hi)
	}
}

func TestOneSampleT(t *testing.T) {
	// Sample far from mu.
	far := []float64{10, 11, 9, 10.5, 9.5, 10, 10.2, 9.8}
	res := OneSampleT(far, 0, 0.05)
	if !res.Significant {
		t.Errorf("sample centered at 10 vs mu=0 should be significant, p=%f", res.PValue)
	}

	// Sample consistent with mu.
	near := []float64{-0.1, 0.2, 0.05, -0.15, 0.1, -0.05}
	res = OneSampleT(near, 0, 0.05)
	if res.Significant {
		t.Errorf("sample centered at 0 vs mu=0 should not be significant, p=%f", res.PValue)
	}
}

func TestChiSquareGOFUniform(t *testing.T) {
	observed := []float64{25, 24, 26, 25}
	expected := []float64{25, 25, 25, 25}
	res := ChiSquareGOF(observed, expected, 0.05)
	if res.Significant {
		t.Errorf("near-uniform counts should not be significant, p=%f", res.PValue)
	}

	skew := []float64{90, 5, 3, 2}
	res = ChiSquareGOF(skew, expected, 0.05)
	if !res.Significant {
		t.Errorf("heavily skewed counts should be significant, p=%f", res.PValue)
	}
}

func TestMannWhitneyU(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	b := []float64{101, 102, 103, 104, 105, 106, 107, 108, 109, 110, 111, 112}
	res := MannWhitneyU(a, b, 0.05)
	if !res.Significant {
		t.Errorf("disjoint samples should be significant, p=%f", res.PValue)
	}

	res = MannWhitneyU(a, a, 0.05)
	if res.Significant {
		t.Errorf("identical samples should not be significant, p=%f", res.PValue)
	}
}

func TestSkewnessKurtosis(t *testing.T) {
	symmetric := []float64{-3, -2, -1, 0, 1, 2, 3}
	if sk := Skewness(symmetric); !almostEqual(sk, 0, 1e-9) {
		t.Errorf("symmetric sample skewness = %f, want 0", sk)
	}

	rightSkewed := []float64{1, 1, 1, 1, 2, 2, 3, 10, 20}
	if sk := Skewness(rightSkewed); sk <= 0 {
		t.Errorf("right-skewed sample skewness = %f, want > 0", sk)
	}
}

func TestPercentile(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if p := Percentile(xs, 50); !almostEqual(p, 5.5, 1e-12) {
		t.Errorf("50th percentile = %f, want 5.5", p)
	}
	if p := Percentile(xs, 0); p != 1 {
		t.Errorf("0th percentile = %f, want 1", p)
	}
	if p := Percentile(xs, 100); p != 10 {
		t.Errorf("100th percentile = %f, want 10", p)
	}
}
