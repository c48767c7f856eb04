package pipeline

import (
	"sync"

	"github.com/feedbackloop/sentinel/internal/metrics"
	"github.com/feedbackloop/sentinel/internal/session"
)

// DefaultBufferCap is the bounded buffer's default capacity.
const DefaultBufferCap = 1000

// buffer is the bounded FIFO session buffer feeding batch analysis. When
// full, the oldest session is dropped. Swap atomically hands the current
// contents to a batch pass so ingestion and batch processing never share a
// slice.
type buffer struct {
	mu      sync.Mutex
	items   []*session.Record
	cap     int
	dropped int64
}

func newBuffer(capacity int) *buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCap
	}
	return &buffer{items: make([]*session.Record, 0, capacity), cap: capacity}
}

// add appends a session, trimming the oldest on overflow. Returns the
// depth after the append.
func (b *buffer) add(rec *session.Record) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) >= b.cap {
		copy(b.items, b.items[1:])
		b.items = b.items[:len(b.items)-1]
		b.dropped++
	}
	b.items = append(b.items, rec)
	depth := len(b.items)
	metrics.BufferDepth.Set(float64(depth))
	return depth
}

// swap takes the buffered sessions and leaves an empty buffer behind.
func (b *buffer) swap() []*session.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = make([]*session.Record, 0, b.cap)
	metrics.BufferDepth.Set(0)
	return out
}

func (b *buffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *buffer) droppedCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
