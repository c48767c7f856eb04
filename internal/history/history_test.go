package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/feedbackloop/sentinel/internal/session"
)

func rec(id string, ts time.Time) *session.Record {
	return &session.Record{
		ID:           id,
		CustomerHash: "cust",
		BusinessID:   "biz",
		Timestamp:    ts,
	}
}

func TestAppendKeepsSortedOrder(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	base := time.Now()

	// Append out of order.
	for _, offset := range []int{3, 1, 4, 0, 2} {
		if err := s.Append(ctx, "cust", rec(fmt.Sprintf("s%d", offset), base.Add(time.Duration(offset)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(ctx, "cust", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Errorf("records out of order at %d: %v before %v", i, got[i].Timestamp, got[i-1].Timestamp)
		}
	}
}

func TestAppendTrimsOldest(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		_ = s.Append(ctx, "cust", rec(fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Minute)))
	}

	got, _ := s.Recent(ctx, "cust", 0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want cap 3", len(got))
	}
	if got[0].ID != "s2" {
		t.Errorf("oldest retained = %s, want s2", got[0].ID)
	}
}

func TestRecentLimitsAndCopies(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 10; i++ {
		_ = s.Append(ctx, "cust", rec(fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Second)))
	}

	got, _ := s.Recent(ctx, "cust", 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "s7" || got[2].ID != "s9" {
		t.Errorf("wrong window: %s..%s, want s7..s9", got[0].ID, got[2].ID)
	}

	// Mutating the returned slice must not corrupt the store.
	got[0] = nil
	again, _ := s.Recent(ctx, "cust", 3)
	if again[0] == nil {
		t.Error("store state aliased by returned slice")
	}
}

func TestRecentUnknownKey(t *testing.T) {
	s := NewMemoryStore(0)
	got, err := s.Recent(context.Background(), "nobody", 10)
	if err != nil || got != nil {
		t.Errorf("unknown key: got %v, %v; want nil, nil", got, err)
	}
}

func TestPrune(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	now := time.Now()

	_ = s.Append(ctx, "cust", rec("old1", now.Add(-48*time.Hour)))
	_ = s.Append(ctx, "cust", rec("old2", now.Add(-25*time.Hour)))
	_ = s.Append(ctx, "cust", rec("new", now.Add(-time.Hour)))

	removed, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if s.Len("cust") != 1 {
		t.Errorf("remaining = %d, want 1", s.Len("cust"))
	}
}

func TestConcurrentAppendPreservesInvariants(t *testing.T) {
	s := NewMemoryStore(100)
	ctx := context.Background()
	base := time.Now()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = s.Append(ctx, "cust", rec(fmt.Sprintf("g%d-%d", g, i), base.Add(time.Duration(g*50+i)*time.Millisecond)))
			}
		}(g)
	}
	wg.Wait()

	got, _ := s.Recent(ctx, "cust", 0)
	if len(got) != 100 {
		t.Fatalf("len = %d, want cap 100", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Fatalf("sorted invariant broken at %d", i)
		}
	}
}
