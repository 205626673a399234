package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"optionsim/internal/models"
)

func summaryWith(positions ...models.PLUpdate) models.PortfolioPLSummary {
	return models.PortfolioPLSummary{
		Positions: positions,
		Timestamp: time.Now(),
	}
}

// collector gathers summaries delivered to a subscriber.
type collector struct {
	mu        sync.Mutex
	summaries []models.PortfolioPLSummary
}

func (c *collector) callback(s models.PortfolioPLSummary) {
	c.mu.Lock()
	c.summaries = append(c.summaries, s)
	c.mu.Unlock()
}

func (c *collector) wait(t *testing.T, n int) []models.PortfolioPLSummary {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.summaries) >= n {
			out := make([]models.PortfolioPLSummary, len(c.summaries))
			copy(out, c.summaries)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t.Fatalf("timed out waiting for %d summaries, got %d", n, len(c.summaries))
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.summaries)
}

func TestHubDeliversToAllSubscribers(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	a := &collector{}
	b := &collector{}
	hub.Subscribe(a.callback, SubscriptionOptions{})
	hub.Subscribe(b.callback, SubscriptionOptions{})

	hub.Publish(summaryWith(models.PLUpdate{Symbol: "MSTY", PercentChange: 2}))

	a.wait(t, 1)
	b.wait(t, 1)
}

func TestHubSymbolFilter(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	c := &collector{}
	hub.Subscribe(c.callback, SubscriptionOptions{Symbols: []string{"MSTY"}})

	hub.Publish(summaryWith(
		models.PLUpdate{Symbol: "MSTY", PercentChange: 2},
		models.PLUpdate{Symbol: "TSLY", PercentChange: 5},
	))

	got := c.wait(t, 1)
	if len(got[0].Positions) != 1 || got[0].Positions[0].Symbol != "MSTY" {
		t.Fatalf("filter leaked positions: %+v", got[0].Positions)
	}
}

func TestHubSuppressesEmptyFilteredResult(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	c := &collector{}
	hub.Subscribe(c.callback, SubscriptionOptions{Symbols: []string{"NVDY"}})

	hub.Publish(summaryWith(models.PLUpdate{Symbol: "MSTY", PercentChange: 2}))

	time.Sleep(50 * time.Millisecond)
	if c.count() != 0 {
		t.Fatalf("empty filtered result must suppress the callback, got %d", c.count())
	}
}

func TestHubMinChangeFilter(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	c := &collector{}
	hub.Subscribe(c.callback, SubscriptionOptions{MinChangeThreshold: 1.0})

	hub.Publish(summaryWith(
		models.PLUpdate{Symbol: "MSTY", PercentChange: 0.2},
		models.PLUpdate{Symbol: "TSLY", PercentChange: -3},
	))

	got := c.wait(t, 1)
	if len(got[0].Positions) != 1 || got[0].Positions[0].Symbol != "TSLY" {
		t.Fatalf("expected only TSLY above threshold, got %+v", got[0].Positions)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	c := &collector{}
	unsubscribe := hub.Subscribe(c.callback, SubscriptionOptions{})
	unsubscribe()

	hub.Publish(summaryWith(models.PLUpdate{Symbol: "MSTY"}))

	time.Sleep(50 * time.Millisecond)
	if hub.SubscriberCount() != 0 {
		t.Fatalf("subscriber count=%d, want 0", hub.SubscriberCount())
	}
}

func TestHubSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHubWithConfig(HubConfig{SubscriberBufferSize: 1}, zerolog.Nop())

	block := make(chan struct{})
	hub.Subscribe(func(models.PortfolioPLSummary) {
		<-block
	}, SubscriptionOptions{})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(summaryWith(models.PLUpdate{Symbol: "MSTY"}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(block)

	if hub.Stats().Dropped == 0 {
		t.Fatal("expected drops for the slow subscriber")
	}
}
