package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	defer m.Close()
	ctx := context.Background()

	if err := m.Set(ctx, "k1", []byte("hello"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := m.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Get = %q, want %q", got, "hello")
	}

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing key error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	m := NewMemoryStore()
	defer m.Close()
	ctx := context.Background()

	if err := m.Set(ctx, "short", []byte("x"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := m.Get(ctx, "short"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := m.Get(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired key error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	m := NewMemoryStore()
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), 0)
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted key error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreValueIsolation(t *testing.T) {
	m := NewMemoryStore()
	defer m.Close()
	ctx := context.Background()

	src := []byte("abc")
	m.Set(ctx, "k", src, 0)
	src[0] = 'z'

	got, _ := m.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value aliased caller slice: %q", got)
	}
	got[0] = 'q'
	again, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("returned value aliased store: %q", again)
	}
}

func TestMemoryStoreLenSkipsExpired(t *testing.T) {
	m := NewMemoryStore()
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "live", []byte("1"), time.Hour)
	m.Set(ctx, "dead", []byte("2"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if n := m.Len(); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}
