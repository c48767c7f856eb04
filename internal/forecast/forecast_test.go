package forecast

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/feedbackloop/sentinel/internal/session"
)

func day(offset int) time.Time {
	return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

// linearSeries produces a noiseless upward trend.
func linearSeries(n int, start, step float64) []SeriesPoint {
	out := make([]SeriesPoint, n)
	for i := range out {
		out[i] = SeriesPoint{Date: day(i), Value: start + step*float64(i)}
	}
	return out
}

func TestBuildSeriesAggregatesPerDay(t *testing.T) {
	recs := []*session.Record{
		{ID: "a", Timestamp: day(0).Add(9 * time.Hour), TransactionAmount: 10, QualityScore: 0.8},
		{ID: "b", Timestamp: day(0).Add(15 * time.Hour), TransactionAmount: 30, QualityScore: 0.6},
		{ID: "c", Timestamp: day(2).Add(11 * time.Hour), TransactionAmount: 5, QualityScore: 0.9},
	}

	revenue, err := BuildSeries(recs, MetricRevenue, nil)
	if err != nil {
		t.Fatalf("BuildSeries revenue: %v", err)
	}
	if len(revenue) != 2 {
		t.Fatalf("got %d revenue days, want 2", len(revenue))
	}
	if revenue[0].Value != 40 {
		t.Errorf("day 0 revenue = %v, want 40", revenue[0].Value)
	}
	if !revenue[0].Date.Before(revenue[1].Date) {
		t.Error("series not date-ordered")
	}

	quality, err := BuildSeries(recs, MetricQuality, nil)
	if err != nil {
		t.Fatalf("BuildSeries quality: %v", err)
	}
	if math.Abs(quality[0].Value-0.7) > 1e-9 {
		t.Errorf("day 0 mean quality = %v, want 0.7", quality[0].Value)
	}

	demand, err := BuildSeries(recs, MetricSeasonalDemand, nil)
	if err != nil {
		t.Fatalf("BuildSeries demand: %v", err)
	}
	if demand[0].Value != 2 || demand[1].Value != 1 {
		t.Errorf("demand = %v/%v, want 2/1", demand[0].Value, demand[1].Value)
	}

	risk, err := BuildSeries(recs, MetricFraudRisk, map[string]float64{"a": 0.2, "b": 0.4})
	if err != nil {
		t.Fatalf("BuildSeries risk: %v", err)
	}
	if math.Abs(risk[0].Value-0.3) > 1e-9 {
		t.Errorf("day 0 mean risk = %v, want 0.3", risk[0].Value)
	}

	if _, err := BuildSeries(recs, Metric("bogus"), nil); err == nil {
		t.Error("expected unknown-metric error")
	}
}

func TestClassifyTrend(t *testing.T) {
	// halves builds a series whose first half sits at a and second half at b.
	halves := func(a, b float64) []SeriesPoint {
		s := make([]SeriesPoint, 8)
		for i := range s {
			v := a
			if i >= 4 {
				v = b
			}
			s[i] = SeriesPoint{Date: day(i), Value: v}
		}
		return s
	}

	cases := []struct {
		name   string
		series []SeriesPoint
		want   Trend
	}{
		{"increasing", linearSeries(20, 100, 5), TrendIncreasing},
		{"decreasing", linearSeries(20, 200, -5), TrendDecreasing},
		{"stable", linearSeries(20, 100, 0), TrendStable},
		{"too short", linearSeries(3, 0, 50), TrendStable},
		{"zero baseline rising", halves(0, 5), TrendIncreasing},
		{"zero baseline falling", halves(0, -5), TrendDecreasing},
		{"all zero", halves(0, 0), TrendStable},
	}
	for _, tc := range cases {
		if got := ClassifyTrend(tc.series); got != tc.want {
			t.Errorf("%s: trend = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestForecastTracksLinearTrend(t *testing.T) {
	f := NewForecaster(Config{Horizon: 5, Seed: 3}, nil)
	series := linearSeries(30, 100, 2)

	fc, err := f.Forecast(context.Background(), "biz_a", MetricRevenue, series)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(fc.Points) != 5 {
		t.Fatalf("got %d points, want 5", len(fc.Points))
	}
	if fc.Trend != TrendIncreasing {
		t.Errorf("trend = %v, want increasing", fc.Trend)
	}

	last := series[len(series)-1].Value
	for i, p := range fc.Points {
		if p.Low > p.Value || p.Value > p.High {
			t.Errorf("point %d interval [%v, %v] does not bracket %v", i, p.Low, p.High, p.Value)
		}
		if !p.Date.Equal(day(30 + i)) {
			t.Errorf("point %d date = %v, want %v", i, p.Date, day(30+i))
		}
	}
	// The ensemble should continue upward, not collapse to the mean.
	if fc.Points[4].Value <= last*0.9 {
		t.Errorf("horizon-5 forecast %v did not continue the trend from %v", fc.Points[4].Value, last)
	}

	sum := 0.0
	for _, w := range fc.ModelWeights {
		if w < 0 {
			t.Errorf("negative ensemble weight %v", w)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("ensemble weights sum to %v, want 1", sum)
	}

	if fc.Validation == nil {
		t.Fatal("no validation report")
	}
	if fc.Validation.Accuracy < 0 || fc.Validation.Accuracy > 1 {
		t.Errorf("accuracy %v out of range", fc.Validation.Accuracy)
	}
	if fc.Validation.RMSE < 0 || fc.Validation.MAE < 0 {
		t.Errorf("negative error metrics: mae=%v rmse=%v", fc.Validation.MAE, fc.Validation.RMSE)
	}
}

func TestForecastDeterministicWithFixedSeed(t *testing.T) {
	series := linearSeries(25, 50, 1.5)
	for i := range series {
		// Deterministic ripple so bagging has something to resample.
		series[i].Value += 3 * math.Sin(float64(i))
	}

	a, err := NewForecaster(Config{Seed: 11}, nil).Forecast(context.Background(), "biz", MetricQuality, series)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	b, err := NewForecaster(Config{Seed: 11}, nil).Forecast(context.Background(), "biz", MetricQuality, series)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for i := range a.Points {
		if a.Points[i].Value != b.Points[i].Value {
			t.Fatalf("point %d differs across identical runs: %v vs %v", i, a.Points[i].Value, b.Points[i].Value)
		}
	}
}

func TestForecastRejectsShortSeries(t *testing.T) {
	f := NewForecaster(Config{}, nil)
	if _, err := f.Forecast(context.Background(), "biz", MetricRevenue, linearSeries(5, 1, 1)); err == nil {
		t.Fatal("expected series-too-short error")
	}
}

func TestEngineerFeatures(t *testing.T) {
	idx := Indices{}.withDefaults()

	saturday := time.Date(2026, 6, 6, 0, 0, 0, 0, time.UTC)
	x := EngineerFeatures(saturday, 10, idx)
	if len(x) != featureCount {
		t.Fatalf("feature width = %d, want %d", len(x), featureCount)
	}
	if x[6] != 1 {
		t.Error("saturday not flagged as weekend")
	}
	if x[7] != 0 {
		t.Error("plain saturday flagged as holiday")
	}

	christmas := time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC)
	x = EngineerFeatures(christmas, 0, idx)
	if x[7] != 1 {
		t.Error("christmas not flagged as holiday")
	}
	if x[8] != seasonalMultipliers[11] {
		t.Errorf("december multiplier = %v, want %v", x[8], seasonalMultipliers[11])
	}

	monday := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if x = EngineerFeatures(monday, 4, idx); x[6] != 0 {
		t.Error("monday flagged as weekend")
	}
	if x[1] != 4 {
		t.Errorf("trend feature = %v, want 4", x[1])
	}
}

func TestSolveRidgeRecoversCoefficients(t *testing.T) {
	// y = 2 + 3x, exactly.
	var X [][]float64
	var y []float64
	for i := 0; i < 20; i++ {
		X = append(X, []float64{1, float64(i)})
		y = append(y, 2+3*float64(i))
	}
	coeffs, err := solveRidge(X, y)
	if err != nil {
		t.Fatalf("solveRidge: %v", err)
	}
	if math.Abs(coeffs[0]-2) > 0.01 || math.Abs(coeffs[1]-3) > 0.01 {
		t.Errorf("coeffs = %v, want [2 3]", coeffs)
	}
}

func TestBoostedModelReducesResiduals(t *testing.T) {
	var X [][]float64
	var y []float64
	for i := 0; i < 30; i++ {
		X = append(X, []float64{1, float64(i)})
		v := 10.0
		if i >= 15 {
			v = 50
		}
		y = append(y, v)
	}
	m := newBoostedModel(20, 0.3)
	if err := m.fit(X, y); err != nil {
		t.Fatalf("fit: %v", err)
	}
	lowErr := math.Abs(m.predict([]float64{1, 5}) - 10)
	highErr := math.Abs(m.predict([]float64{1, 25}) - 50)
	if lowErr > 5 || highErr > 5 {
		t.Errorf("step function poorly fit: errors %v / %v", lowErr, highErr)
	}
}
