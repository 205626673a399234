package performance

import (
	"sync"
	"time"
)

// Metrics is the read-only snapshot exported to external reporting tools.
type Metrics struct {
	AverageUpdateTime time.Duration
	MaxUpdateTime     time.Duration
	TotalUpdates      uint64
	CacheHitRate      float64
	QueueSize         int
	SubscriberCount   int
	IsRunning         bool
	UpdateFrequency   time.Duration
}

// Tracker accumulates per-cycle timings for the metrics snapshot.
type Tracker struct {
	mu        sync.Mutex
	total     uint64
	sumTime   time.Duration
	maxTime   time.Duration
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record adds one cycle's duration.
func (t *Tracker) Record(took time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	t.sumTime += took
	if took > t.maxTime {
		t.maxTime = took
	}
}

// Snapshot returns the accumulated totals.
func (t *Tracker) Snapshot() (total uint64, avg, max time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.total > 0 {
		avg = t.sumTime / time.Duration(t.total)
	}
	return t.total, avg, t.maxTime
}
