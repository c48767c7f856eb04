package health

import (
	"context"
	"sync"
	"testing"
)

func TestEmptyRegistryIsHealthy(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	if !healthy {
		t.Fatal("Empty registry should report healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("Expected no statuses, got %d", len(statuses))
	}
}

func TestCheckAllOrderAndAggregate(t *testing.T) {
	r := NewRegistry()
	r.Register("store", func(_ context.Context) Status {
		return Status{Name: "store", Healthy: true}
	})
	r.Register("archive", func(_ context.Context) Status {
		return Status{Name: "archive", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("One failing checker should flip the aggregate")
	}
	if len(statuses) != 2 {
		t.Fatalf("Expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Name != "store" || statuses[1].Name != "archive" {
		t.Errorf("Statuses out of registration order: %v", statuses)
	}
	if statuses[1].Detail != "connection refused" {
		t.Errorf("Detail not carried through: %q", statuses[1].Detail)
	}
}

func TestRegisterReplacesByName(t *testing.T) {
	r := NewRegistry()
	r.Register("store", func(_ context.Context) Status {
		return Status{Name: "store", Healthy: false}
	})
	r.Register("store", func(_ context.Context) Status {
		return Status{Name: "store", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("Replacement checker should win")
	}
	if len(statuses) != 1 {
		t.Fatalf("Expected 1 status after replacement, got %d", len(statuses))
	}
}

func TestConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("probe", func(_ context.Context) Status {
				return Status{Name: "probe", Healthy: true}
			})
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()
}
