package stream

import (
	"sync"

	"optionsim/internal/models"
)

// messageQueue is a bounded FIFO of parsed price updates. When full, it
// sheds the oldest chunk instead of growing or blocking the producer:
// only the latest price per symbol matters, so stale data is the cheapest
// thing to lose.
type messageQueue struct {
	mu        sync.Mutex
	items     []models.PriceUpdate
	limit     int
	shedChunk int
	dropped   uint64
}

func newMessageQueue(limit, shedChunk int) *messageQueue {
	if limit <= 0 {
		limit = 1000
	}
	if shedChunk <= 0 || shedChunk > limit {
		shedChunk = 50
	}
	return &messageQueue{
		items:     make([]models.PriceUpdate, 0, limit),
		limit:     limit,
		shedChunk: shedChunk,
	}
}

// push appends an update, shedding the oldest chunk first if at the limit.
func (q *messageQueue) push(update models.PriceUpdate) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.limit {
		shed := q.shedChunk
		if shed > len(q.items) {
			shed = len(q.items)
		}
		q.items = q.items[:copy(q.items, q.items[shed:])]
		q.dropped += uint64(shed)
	}
	q.items = append(q.items, update)
}

// drain removes and returns up to max queued updates. Messages arriving
// after the snapshot is taken wait for the next cycle.
func (q *messageQueue) drain(max int) []models.PriceUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 {
		return nil
	}
	if max > 0 && n > max {
		n = max
	}

	batch := make([]models.PriceUpdate, n)
	copy(batch, q.items[:n])
	q.items = q.items[:copy(q.items, q.items[n:])]
	return batch
}

func (q *messageQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *messageQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
