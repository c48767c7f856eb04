//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/feedbackloop/sentinel/internal/pagination"
	"github.com/feedbackloop/sentinel/internal/pattern"
	"github.com/feedbackloop/sentinel/internal/testutil"
)

func setupArchive(t *testing.T) (*PostgresArchive, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	return NewPostgresArchive(db), cleanup
}

func TestArchiveSaveBatch(t *testing.T) {
	archive, cleanup := setupArchive(t)
	defer cleanup()

	ctx := context.Background()
	payload := map[string]any{"sampleSize": 40, "outcome": "ok"}

	if err := archive.SaveBatch(ctx, "batch-it-1", 40, payload); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	// Idempotent on conflict
	if err := archive.SaveBatch(ctx, "batch-it-1", 40, payload); err != nil {
		t.Fatalf("SaveBatch repeat: %v", err)
	}
}

func TestArchiveSaveForecast(t *testing.T) {
	archive, cleanup := setupArchive(t)
	defer cleanup()

	ctx := context.Background()
	payload := map[string]any{"metric": "revenue", "horizonDays": 14}

	if err := archive.SaveForecast(ctx, "fc-it-1", "biz-1", "revenue", payload); err != nil {
		t.Fatalf("SaveForecast: %v", err)
	}
}

func TestArchiveAssessmentRoundTrip(t *testing.T) {
	archive, cleanup := setupArchive(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	for i, level := range []pattern.RiskLevel{pattern.RiskHigh, pattern.RiskCritical} {
		res := &pattern.Result{
			ID:           "assess-it-" + string(rune('a'+i)),
			SessionID:    "sess-it-1",
			CustomerHash: "cust-it",
			BusinessID:   "biz-it",
			AnomalyScore: 0.8,
			RiskLevel:    level,
			Confidence:   0.9,
			Reasons:      []string{"impossible travel between venues"},
			AnalyzedAt:   now.Add(time.Duration(i) * time.Minute),
		}
		if err := archive.SaveAssessment(ctx, res); err != nil {
			t.Fatalf("SaveAssessment: %v", err)
		}
	}

	got, err := archive.RecentAssessments(ctx, "biz-it", 10, nil)
	if err != nil {
		t.Fatalf("RecentAssessments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 assessments, got %d", len(got))
	}
	// Most recent first
	if got[0].RiskLevel != pattern.RiskCritical {
		t.Errorf("Expected critical first, got %s", got[0].RiskLevel)
	}
	if got[0].AnomalyScore != 0.8 {
		t.Errorf("Score not preserved: %v", got[0].AnomalyScore)
	}
	if len(got[0].Reasons) != 1 {
		t.Errorf("Reasons not preserved: %v", got[0].Reasons)
	}

	// Keyset pagination resumes after the first row.
	cur := &pagination.Cursor{CreatedAt: got[0].AnalyzedAt, ID: got[0].ID}
	rest, err := archive.RecentAssessments(ctx, "biz-it", 10, cur)
	if err != nil {
		t.Fatalf("RecentAssessments with cursor: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != got[1].ID {
		t.Errorf("Cursor page mismatch: %v", rest)
	}
}

func TestArchivePruneBatches(t *testing.T) {
	archive, cleanup := setupArchive(t)
	defer cleanup()

	ctx := context.Background()
	if err := archive.SaveBatch(ctx, "batch-it-old", 5, map[string]any{}); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	// Nothing is older than an hour yet
	n, err := archive.PruneBatches(ctx, time.Hour)
	if err != nil {
		t.Fatalf("PruneBatches: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 pruned, got %d", n)
	}
}
