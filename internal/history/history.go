// Package history provides the bounded, time-ordered session history store
// the analyzers read from.
//
// Histories are keyed by an opaque string (customer hash or business ID) and
// hold the most recent records sorted ascending by timestamp. All mutation
// goes through Append, which serializes per key; the sorted/bounded
// invariants survive concurrent ingestion because two appends for the same
// key never interleave.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/feedbackloop/sentinel/internal/session"
	"github.com/feedbackloop/sentinel/internal/syncutil"
)

// DefaultCap bounds how many records a single key retains.
const DefaultCap = 200

// Store is the history contract shared by the analyzers. Implementations
// must serialize Append per key and must never hand out slices that alias
// internal state.
type Store interface {
	// Append inserts rec into the key's history, keeping it sorted by
	// timestamp and trimming the oldest records beyond the cap.
	Append(ctx context.Context, key string, rec *session.Record) error

	// Recent returns up to n of the newest records for key, oldest first.
	// n <= 0 returns the full retained history.
	Recent(ctx context.Context, key string, n int) ([]*session.Record, error)

	// Prune drops records older than maxAge across all keys and returns
	// how many were removed.
	Prune(ctx context.Context, maxAge time.Duration) (int, error)

	// Keys lists every key currently holding history. Used by background
	// sweeps (seasonal profile rebuilds), not by the ingest path.
	Keys(ctx context.Context) ([]string, error)
}

// MemoryStore is the in-process Store implementation.
type MemoryStore struct {
	cap     int
	locks   syncutil.ShardedMutex // per-key append ordering
	mu      sync.RWMutex          // guards the map itself
	entries map[string][]*session.Record
}

// NewMemoryStore creates a memory-backed history store. cap <= 0 uses
// DefaultCap.
func NewMemoryStore(cap int) *MemoryStore {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &MemoryStore{
		cap:     cap,
		entries: make(map[string][]*session.Record),
	}
}

// Append implements Store. Insertion keeps ascending timestamp order even
// when records arrive out of order.
func (s *MemoryStore) Append(ctx context.Context, key string, rec *session.Record) error {
	unlock := s.locks.Lock(key)
	defer unlock()

	s.mu.RLock()
	existing := s.entries[key]
	s.mu.RUnlock()

	// Copy-on-write so Recent callers holding an old slice never observe
	// the mutation.
	updated := make([]*session.Record, len(existing), len(existing)+1)
	copy(updated, existing)

	idx := sort.Search(len(updated), func(i int) bool {
		return updated[i].Timestamp.After(rec.Timestamp)
	})
	updated = append(updated, nil)
	copy(updated[idx+1:], updated[idx:])
	updated[idx] = rec

	if len(updated) > s.cap {
		updated = updated[len(updated)-s.cap:]
	}

	s.mu.Lock()
	s.entries[key] = updated
	s.mu.Unlock()
	return nil
}

// Recent implements Store.
func (s *MemoryStore) Recent(ctx context.Context, key string, n int) ([]*session.Record, error) {
	s.mu.RLock()
	all := s.entries[key]
	s.mu.RUnlock()

	if len(all) == 0 {
		return nil, nil
	}
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	out := make([]*session.Record, n)
	copy(out, all[len(all)-n:])
	return out, nil
}

// Prune implements Store.
func (s *MemoryStore) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	removed := 0
	for _, key := range keys {
		unlock := s.locks.Lock(key)

		s.mu.RLock()
		recs := s.entries[key]
		s.mu.RUnlock()

		start := 0
		for start < len(recs) && recs[start].Timestamp.Before(cutoff) {
			start++
		}
		if start > 0 {
			kept := make([]*session.Record, len(recs)-start)
			copy(kept, recs[start:])
			s.mu.Lock()
			if len(kept) == 0 {
				delete(s.entries, key)
			} else {
				s.entries[key] = kept
			}
			s.mu.Unlock()
			removed += start
		}
		unlock()
	}
	return removed, nil
}

// Keys implements Store.
func (s *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// Len reports the retained record count for a key. Test helper.
func (s *MemoryStore) Len(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[key])
}
