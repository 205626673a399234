package performance

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"optionsim/internal/models"
)

func TestWorkerPoolSubmit(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		ok := pool.Submit(func() {
			mu.Lock()
			count++
			mu.Unlock()
			wg.Done()
		})
		if !ok {
			t.Fatal("submit failed on running pool")
		}
	}
	wg.Wait()

	if count != 10 {
		t.Fatalf("expected 10 tasks run, got %d", count)
	}
}

func TestWorkerPoolSubmitWhenStopped(t *testing.T) {
	pool := NewWorkerPool(1)
	if pool.Submit(func() {}) {
		t.Fatal("submit should fail before Start")
	}
}

func TestCollapseLatestKeepsLastPerSymbol(t *testing.T) {
	batch := []models.PriceUpdate{
		{Symbol: "MSTY", Price: 44},
		{Symbol: "TSLY", Price: 12},
		{Symbol: "MSTY", Price: 45},
		{Symbol: "MSTY", Price: 46},
	}

	result := InlineProcessor{}.Process(batch)

	if result.Symbols != 2 || result.Collapsed != 2 {
		t.Fatalf("got symbols=%d collapsed=%d", result.Symbols, result.Collapsed)
	}
	if result.Updates[0].Symbol != "MSTY" || result.Updates[0].Price != 46 {
		t.Fatalf("expected latest MSTY price 46, got %+v", result.Updates[0])
	}
}

func TestPooledProcessorMatchesInline(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()
	defer pool.Stop()

	batch := make([]models.PriceUpdate, 0, 25)
	for i := 0; i < 25; i++ {
		batch = append(batch, models.PriceUpdate{
			Symbol: fmt.Sprintf("SYM%d", i%5),
			Price:  float64(i),
		})
	}

	inline := InlineProcessor{}.Process(batch)
	pooled := NewPooledProcessor(pool).Process(batch)

	if len(inline.Updates) != len(pooled.Updates) {
		t.Fatalf("inline=%d pooled=%d", len(inline.Updates), len(pooled.Updates))
	}
	for i := range inline.Updates {
		if inline.Updates[i] != pooled.Updates[i] {
			t.Fatalf("mismatch at %d: %+v vs %+v", i, inline.Updates[i], pooled.Updates[i])
		}
	}
}

func TestSelectProcessor(t *testing.T) {
	inline := InlineProcessor{}
	pooled := NewPooledProcessor(NewWorkerPool(1))

	if p := SelectProcessor(5, 10, inline, pooled); p != BatchProcessor(inline) {
		t.Fatal("small batch should use the inline processor")
	}
	if p := SelectProcessor(11, 10, inline, pooled); p != BatchProcessor(pooled) {
		t.Fatal("large batch should use the pooled processor")
	}
	if p := SelectProcessor(11, 10, inline, nil); p != BatchProcessor(inline) {
		t.Fatal("missing pool should fall back to inline")
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	tr.Record(10 * time.Millisecond)
	tr.Record(30 * time.Millisecond)

	total, avg, max := tr.Snapshot()
	if total != 2 {
		t.Fatalf("total=%d", total)
	}
	if avg != 20*time.Millisecond {
		t.Fatalf("avg=%v", avg)
	}
	if max != 30*time.Millisecond {
		t.Fatalf("max=%v", max)
	}
}

func BenchmarkCollapseLatest(b *testing.B) {
	batch := make([]models.PriceUpdate, 50)
	for i := range batch {
		batch[i] = models.PriceUpdate{Symbol: fmt.Sprintf("SYM%d", i%10), Price: float64(i)}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		collapseLatest(batch)
	}
}
