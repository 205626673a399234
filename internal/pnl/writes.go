package pnl

import (
	"sync"
	"sync/atomic"
	"time"
)

// PositionWrite is one pending write-back of the price/P&L fields the
// pipeline owns. Structural position fields are never written.
type PositionWrite struct {
	PositionID    string
	Symbol        string
	Price         float64
	UnrealizedPL  float64
	PercentChange float64
}

// FlushFunc commits a set of coalesced writes to application state.
type FlushFunc func(writes []PositionWrite)

// WriteBuffer coalesces position write-backs: last write wins per position
// within a flush window, so a burst of updates to the same position costs
// one commit. Flushing happens on a timer or via an explicit Flush.
type WriteBuffer struct {
	interval time.Duration
	flush    FlushFunc

	mu      sync.Mutex
	pending map[string]PositionWrite
	order   []string
	timer   *time.Timer
	flushes atomic.Uint64
}

// NewWriteBuffer creates a buffer flushing at most once per interval.
func NewWriteBuffer(interval time.Duration, flush FlushFunc) *WriteBuffer {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &WriteBuffer{
		interval: interval,
		flush:    flush,
		pending:  make(map[string]PositionWrite),
	}
}

// Add queues a write. The first write in a window arms the flush timer.
func (b *WriteBuffer) Add(write PositionWrite) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.pending[write.PositionID]; !ok {
		b.order = append(b.order, write.PositionID)
	}
	b.pending[write.PositionID] = write

	if b.timer == nil {
		b.timer = time.AfterFunc(b.interval, b.Flush)
	}
}

// Flush commits all pending writes immediately.
func (b *WriteBuffer) Flush() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	writes := make([]PositionWrite, 0, len(b.pending))
	for _, id := range b.order {
		writes = append(writes, b.pending[id])
	}
	b.pending = make(map[string]PositionWrite)
	b.order = b.order[:0]
	flush := b.flush
	b.mu.Unlock()

	b.flushes.Add(1)
	if flush != nil {
		flush(writes)
	}
}

// PendingCount returns the number of queued writes.
func (b *WriteBuffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// FlushCount returns how many flushes have been committed.
func (b *WriteBuffer) FlushCount() uint64 {
	return b.flushes.Load()
}
