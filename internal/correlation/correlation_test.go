package correlation

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/feedbackloop/sentinel/internal/pattern"
	"github.com/feedbackloop/sentinel/internal/session"
)

// sampleRecords builds a deterministic batch with genuine structure: audio
// duration drives transcript length, quality drifts with the hour.
func sampleRecords(n int) []*session.Record {
	rng := rand.New(rand.NewSource(7))
	base := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	recs := make([]*session.Record, n)
	for i := range recs {
		audio := 20 + rng.Float64()*100
		hour := rng.Intn(14)
		recs[i] = &session.Record{
			ID:                      fmt.Sprintf("sess_%03d", i),
			CustomerHash:            fmt.Sprintf("cust_%02d", i%17),
			BusinessID:              "biz_a",
			LocationID:              "loc_a",
			Timestamp:               base.Add(time.Duration(i)*45*time.Minute + time.Duration(hour)*time.Hour),
			Location:                session.Coordinates{Lat: 59.3 + rng.Float64()*0.2, Lon: 18.0 + rng.Float64()*0.2},
			QualityScore:            0.5 + 0.02*float64(hour) + rng.Float64()*0.1,
			TranscriptLength:        int(audio*14 + rng.Float64()*40),
			AudioDuration:           audio,
			TransactionAmount:       10 + rng.Float64()*90,
			DeviceFingerprint:       fmt.Sprintf("dev_%02d", i%23),
			TranscriptionConfidence: 0.8 + rng.Float64()*0.15,
		}
	}
	return recs
}

func TestMatrixSymmetricWithUnitDiagonal(t *testing.T) {
	e := NewEngine(Config{}, nil)
	a, err := e.Analyze(context.Background(), sampleRecords(80))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	m := a.Matrix
	for _, d := range m.Dims {
		if got := m.At(d, d).Coefficient; got != 1 {
			t.Errorf("diagonal %s = %v, want 1", d, got)
		}
	}
	for i := 0; i < len(m.Dims); i++ {
		for j := 0; j < len(m.Dims); j++ {
			ab := m.At(m.Dims[i], m.Dims[j]).Coefficient
			ba := m.At(m.Dims[j], m.Dims[i]).Coefficient
			if ab != ba {
				t.Errorf("asymmetric: %s/%s %v vs %v", m.Dims[i], m.Dims[j], ab, ba)
			}
			if ab < -1 || ab > 1 {
				t.Errorf("coefficient %s/%s = %v out of range", m.Dims[i], m.Dims[j], ab)
			}
		}
	}
}

func TestLinearlyDependentDimensionsCorrelateStrongly(t *testing.T) {
	recs := sampleRecords(60)
	// Transcript length proportional to duration makes the pair nearly
	// perfectly correlated.
	for _, r := range recs {
		r.TranscriptLength = int(r.AudioDuration * 15)
	}
	e := NewEngine(Config{}, nil)
	a, err := e.Analyze(context.Background(), recs)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	entry := a.Matrix.At("audio_duration", "transcript_length")
	if math.Abs(entry.Coefficient) < 0.99 {
		t.Errorf("dependent pair r = %v, want |r| >= 0.99", entry.Coefficient)
	}
	if entry.PValue > 0.001 {
		t.Errorf("dependent pair p = %v, want near zero", entry.PValue)
	}
	if entry.Significance != SignificanceVeryStrong {
		t.Errorf("significance = %v, want %v", entry.Significance, SignificanceVeryStrong)
	}
}

func TestAnalyzeRejectsSmallSample(t *testing.T) {
	e := NewEngine(Config{}, nil)
	if _, err := e.Analyze(context.Background(), sampleRecords(5)); err == nil {
		t.Fatal("expected insufficient-sample error")
	}
}

func TestPCAVarianceAccounting(t *testing.T) {
	f := ExtractFeatures(sampleRecords(100))
	pca, err := ComputePCA(f, 5)
	if err != nil {
		t.Fatalf("ComputePCA: %v", err)
	}
	if pca.Retained == 0 {
		t.Fatal("no components retained")
	}
	prev := 0.0
	for i, c := range pca.Components {
		if c.ExplainedVariance < 0 || c.ExplainedVariance > 1 {
			t.Errorf("component %d explained variance %v out of range", i, c.ExplainedVariance)
		}
		if c.CumulativeVariance < prev {
			t.Errorf("cumulative variance not monotone at component %d", i)
		}
		if i > 0 && c.Eigenvalue > pca.Components[i-1].Eigenvalue+1e-9 {
			t.Errorf("eigenvalues not sorted descending at component %d", i)
		}
		prev = c.CumulativeVariance
	}
	if prev > 1+1e-9 {
		t.Errorf("cumulative variance %v exceeds 1", prev)
	}
	for i, c := range pca.Components {
		if len(c.Loadings) == 0 {
			t.Errorf("component %d has no loadings", i)
		}
	}
}

func TestPCARejectsTinySample(t *testing.T) {
	if _, err := ComputePCA(ExtractFeatures(sampleRecords(2)), 5); err == nil {
		t.Fatal("expected sample-size error")
	}
}

func TestClusterPartitionCoversAllDimensions(t *testing.T) {
	e := NewEngine(Config{}, nil)
	a, err := e.Analyze(context.Background(), sampleRecords(90))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(a.Clusters) < 3 {
		t.Fatalf("got %d clusters, want at least 3", len(a.Clusters))
	}
	seen := make(map[string]int)
	for _, c := range a.Clusters {
		if len(c.DominantFactors) == 0 {
			t.Errorf("cluster %d has no dominant factors", c.ID)
		}
		if c.BusinessRelevance < 0 || c.BusinessRelevance > 1 {
			t.Errorf("cluster %d business relevance %v out of range", c.ID, c.BusinessRelevance)
		}
		for _, d := range c.Dimensions {
			seen[d]++
		}
	}
	for _, d := range a.Matrix.Dims {
		if seen[d] != 1 {
			t.Errorf("dimension %s appears in %d clusters, want exactly 1", d, seen[d])
		}
	}
}

func TestAdaptiveThresholdDriftsAndHoldsFloor(t *testing.T) {
	recs := sampleRecords(120)
	for _, r := range recs {
		r.TranscriptLength = int(r.AudioDuration * 15)
	}
	e := NewEngine(Config{}, nil)
	before := e.Threshold()
	if _, err := e.Analyze(context.Background(), recs); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	after := e.Threshold()
	if after == before {
		t.Error("threshold did not adapt after a batch with significant correlations")
	}
	if after < thresholdFloor {
		t.Errorf("threshold %v below floor %v", after, thresholdFloor)
	}
}

func TestInsightsAlwaysRecommendSomething(t *testing.T) {
	e := NewEngine(Config{}, nil)
	a, err := e.Analyze(context.Background(), sampleRecords(50))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if a.Insights == nil {
		t.Fatal("nil insights")
	}
	if len(a.Insights.Recommendations) == 0 {
		t.Error("no recommendations produced")
	}
}

func TestRealtimeScorerFlagsDeviantSession(t *testing.T) {
	s := NewRealtimeScorer()
	for _, r := range sampleRecords(60) {
		s.Observe(r)
	}

	outlier := sampleRecords(1)[0]
	outlier.ID = "sess_outlier"
	outlier.AudioDuration = 2000
	outlier.TranscriptLength = 50
	outlier.TransactionAmount = 9000

	report := s.Score(outlier)
	if report.Reference == 0 {
		t.Fatal("reference window not built")
	}
	if len(report.Deviations) == 0 {
		t.Fatal("no deviations flagged for extreme session")
	}
	if report.RiskScore <= 0 {
		t.Error("risk score not raised")
	}
	if report.Pattern == nil {
		t.Fatal("no pattern emitted for severe deviations")
	}
	if report.Pattern.Type != pattern.TypeFeatureDeviation {
		t.Errorf("pattern type = %v, want %v", report.Pattern.Type, pattern.TypeFeatureDeviation)
	}
}

func TestRealtimeScorerNeutralWithoutReference(t *testing.T) {
	s := NewRealtimeScorer()
	rec := sampleRecords(1)[0]
	report := s.Score(rec)
	if report.RiskScore != 0 || len(report.Deviations) != 0 || report.Pattern != nil {
		t.Errorf("expected neutral report, got %+v", report)
	}
}
