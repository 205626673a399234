package performance

import (
	"time"

	"optionsim/internal/models"
)

// DefaultOffloadThreshold is the batch size above which post-processing is
// handed to the worker pool instead of running inline.
const DefaultOffloadThreshold = 10

// ProcessedBatch is the result of post-processing one drained batch:
// updates collapsed to the latest per symbol, preserving per-symbol
// arrival order semantics.
type ProcessedBatch struct {
	Updates   []models.PriceUpdate
	Symbols   int
	Collapsed int
	Took      time.Duration
}

// BatchProcessor post-processes a drained message batch. The transport
// must not depend on which implementation is active.
type BatchProcessor interface {
	Process(batch []models.PriceUpdate) ProcessedBatch
}

// collapseLatest reduces a batch to the last update per symbol, keeping
// first-arrival order of symbols.
func collapseLatest(batch []models.PriceUpdate) ProcessedBatch {
	start := time.Now()

	index := make(map[string]int, len(batch))
	out := make([]models.PriceUpdate, 0, len(batch))
	for _, u := range batch {
		if i, ok := index[u.Symbol]; ok {
			out[i] = u
			continue
		}
		index[u.Symbol] = len(out)
		out = append(out, u)
	}

	return ProcessedBatch{
		Updates:   out,
		Symbols:   len(out),
		Collapsed: len(batch) - len(out),
		Took:      time.Since(start),
	}
}

// InlineProcessor processes batches synchronously on the calling goroutine.
type InlineProcessor struct{}

// Process implements BatchProcessor.
func (InlineProcessor) Process(batch []models.PriceUpdate) ProcessedBatch {
	return collapseLatest(batch)
}

// PooledProcessor offloads processing to a worker pool, falling back to
// inline processing when the pool cannot accept the task.
type PooledProcessor struct {
	pool *WorkerPool
}

// NewPooledProcessor creates a processor backed by the given pool.
func NewPooledProcessor(pool *WorkerPool) *PooledProcessor {
	return &PooledProcessor{pool: pool}
}

// Process implements BatchProcessor.
func (p *PooledProcessor) Process(batch []models.PriceUpdate) ProcessedBatch {
	var result ProcessedBatch
	if ok := p.pool.SubmitWait(func() {
		result = collapseLatest(batch)
	}); !ok {
		return collapseLatest(batch)
	}
	return result
}

// SelectProcessor returns the pooled processor for batches larger than
// threshold and the inline one otherwise.
func SelectProcessor(batchLen, threshold int, inline, pooled BatchProcessor) BatchProcessor {
	if threshold <= 0 {
		threshold = DefaultOffloadThreshold
	}
	if batchLen > threshold && pooled != nil {
		return pooled
	}
	return inline
}

var (
	_ BatchProcessor = InlineProcessor{}
	_ BatchProcessor = (*PooledProcessor)(nil)
)
