// Package store provides the TTL key-value persistence the pipeline uses
// for session results, batch outputs and reference caches, plus a durable
// Postgres archive for batch analyses and high-risk assessments.
//
// The KV layer is deliberately narrow: get/set-with-TTL/delete is all the
// pipeline needs, and failures are non-fatal upstream; the in-memory
// result path completes even when the store is down.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: key not found")

// Default result lifetimes.
const (
	SessionTTL   = 24 * time.Hour
	BatchTTL     = 7 * 24 * time.Hour
	ReferenceTTL = 24 * time.Hour
)

// Store is a key-value store with per-key expiry. Values are opaque bytes;
// callers marshal their own payloads.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
