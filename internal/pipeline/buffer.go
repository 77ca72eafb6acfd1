package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/telhawk-systems/logworker/internal/metrics"
)

// IngestionBuffer stages records between intake and the flusher.
//
// Add never blocks on a flush: when the buffer holds maxSize items the new
// item is dropped and counted. When the size reaches batchSize a signal is
// sent on Full so the flusher can run early.
type IngestionBuffer struct {
	maxSize   int
	batchSize int

	mu    sync.Mutex
	items []BufferedItem

	dropped atomic.Int64
	full    chan struct{}
}

// NewIngestionBuffer creates an empty buffer.
func NewIngestionBuffer(maxSize, batchSize int) *IngestionBuffer {
	return &IngestionBuffer{
		maxSize:   maxSize,
		batchSize: batchSize,
		items:     make([]BufferedItem, 0, min(maxSize, batchSize)),
		full:      make(chan struct{}, 1),
	}
}

// Add appends item. It returns false if the item was shed because the
// buffer is at capacity.
func (b *IngestionBuffer) Add(item BufferedItem) bool {
	b.mu.Lock()
	if len(b.items) >= b.maxSize {
		b.mu.Unlock()
		b.dropped.Add(1)
		metrics.BufferDropped.Inc()
		return false
	}
	b.items = append(b.items, item)
	size := len(b.items)
	b.mu.Unlock()

	metrics.BufferSize.Set(float64(size))
	if size >= b.batchSize {
		select {
		case b.full <- struct{}{}:
		default:
		}
	}
	return true
}

// DrainUpTo removes and returns at most n items, oldest first.
func (b *IngestionBuffer) DrainUpTo(n int) []BufferedItem {
	if n <= 0 {
		return nil
	}

	b.mu.Lock()
	if len(b.items) == 0 {
		b.mu.Unlock()
		return nil
	}
	n = min(n, len(b.items))
	out := make([]BufferedItem, n)
	copy(out, b.items[:n])
	rest := copy(b.items, b.items[n:])
	clear(b.items[rest:])
	b.items = b.items[:rest]
	b.mu.Unlock()

	metrics.BufferSize.Set(float64(rest))
	return out
}

// Size is a point-in-time item count.
func (b *IngestionBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns how many items were shed since creation.
func (b *IngestionBuffer) Dropped() int64 {
	return b.dropped.Load()
}

// Full delivers a signal whenever the buffer reaches batchSize.
func (b *IngestionBuffer) Full() <-chan struct{} {
	return b.full
}
