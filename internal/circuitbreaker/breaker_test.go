package circuitbreaker

import (
	"testing"
	"time"
)

func trip(b *Breaker, key string, n int) {
	for i := 0; i < n; i++ {
		b.RecordFailure(key)
	}
}

func TestClosedAllows(t *testing.T) {
	b := New(3, 100*time.Millisecond)
	if !b.Allow("kv") {
		t.Fatal("Fresh circuit should allow")
	}
	if b.State("kv") != StateClosed {
		t.Fatalf("Unknown key should be closed, got %v", b.State("kv"))
	}
}

func TestTripsAtThreshold(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	trip(b, "kv", 2)
	if !b.Allow("kv") {
		t.Fatal("Below threshold should still allow")
	}

	b.RecordFailure("kv")
	if b.Allow("kv") {
		t.Fatal("At threshold the circuit should be open")
	}
	if b.State("kv") != StateOpen {
		t.Fatalf("Expected open, got %v", b.State("kv"))
	}
}

func TestOpenWindowAdmitsOneProbe(t *testing.T) {
	b := New(2, 40*time.Millisecond)
	trip(b, "kv", 2)

	if b.Allow("kv") {
		t.Fatal("Should reject while open")
	}

	time.Sleep(50 * time.Millisecond)

	if !b.Allow("kv") {
		t.Fatal("Expired window should admit a probe")
	}
	if b.State("kv") != StateHalfOpen {
		t.Fatalf("Expected half-open, got %v", b.State("kv"))
	}
	if b.Allow("kv") {
		t.Fatal("Only one probe at a time")
	}
}

func TestProbeOutcomeDecides(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		b := New(2, 40*time.Millisecond)
		trip(b, "kv", 2)
		time.Sleep(50 * time.Millisecond)
		b.Allow("kv")

		b.RecordSuccess("kv")
		if b.State("kv") != StateClosed {
			t.Fatalf("Probe success should close, got %v", b.State("kv"))
		}
		if !b.Allow("kv") {
			t.Fatal("Closed circuit should allow again")
		}
	})

	t.Run("failure reopens", func(t *testing.T) {
		b := New(2, 40*time.Millisecond)
		trip(b, "kv", 2)
		time.Sleep(50 * time.Millisecond)
		b.Allow("kv")

		b.RecordFailure("kv")
		if b.State("kv") != StateOpen {
			t.Fatalf("Probe failure should reopen, got %v", b.State("kv"))
		}
	})
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	trip(b, "kv", 2)
	b.RecordSuccess("kv")
	b.RecordFailure("kv")

	if !b.Allow("kv") {
		t.Fatal("Counter should have reset; circuit must stay closed")
	}
}

func TestKeysAreIsolated(t *testing.T) {
	b := New(2, 100*time.Millisecond)
	trip(b, "archive", 2)

	if b.Allow("archive") {
		t.Fatal("archive should be open")
	}
	if !b.Allow("kv") {
		t.Fatal("kv must be unaffected by archive failures")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half_open",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
