package stream

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"optionsim/internal/logging"
	"optionsim/internal/models"
)

// HubConfig holds configuration for the summary hub.
type HubConfig struct {
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SubscriberBufferSize: 16,
	}
}

// SubscriptionOptions filter summaries before delivery.
type SubscriptionOptions struct {
	// Symbols restricts delivered position updates to this allow-list.
	// Empty means all symbols.
	Symbols []string
	// MinChangeThreshold suppresses position updates whose absolute
	// percent change is below the threshold.
	MinChangeThreshold float64
}

type hubSubscriber struct {
	id       uint64
	callback func(models.PortfolioPLSummary)
	opts     SubscriptionOptions
	ch       chan models.PortfolioPLSummary
	done     chan struct{}
	dropped  atomic.Uint64
}

// Hub fans portfolio summaries out to subscribers. Delivery never blocks
// the producer: each subscriber has a buffered channel drained by its own
// goroutine, and a slow subscriber loses summaries rather than stalling
// ingestion.
type Hub struct {
	config HubConfig
	logger zerolog.Logger

	mu          sync.RWMutex
	subscribers map[uint64]*hubSubscriber
	nextID      uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a hub with default configuration.
func NewHub(logger zerolog.Logger) *Hub {
	return NewHubWithConfig(DefaultHubConfig(), logger)
}

// NewHubWithConfig creates a hub with custom configuration.
func NewHubWithConfig(cfg HubConfig, logger zerolog.Logger) *Hub {
	if cfg.SubscriberBufferSize <= 0 {
		cfg.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{
		config:      cfg,
		logger:      logging.WithComponent(logger, "hub"),
		subscribers: make(map[uint64]*hubSubscriber),
	}
}

// Subscribe registers a callback for portfolio summaries and returns an
// unsubscribe function. Filters are applied before delivery; a summary
// whose filtered position list is empty is suppressed entirely.
func (h *Hub) Subscribe(callback func(models.PortfolioPLSummary), opts SubscriptionOptions) func() {
	h.mu.Lock()
	h.nextID++
	sub := &hubSubscriber{
		id:       h.nextID,
		callback: callback,
		opts:     opts,
		ch:       make(chan models.PortfolioPLSummary, h.config.SubscriberBufferSize),
		done:     make(chan struct{}),
	}
	h.subscribers[sub.id] = sub
	h.mu.Unlock()

	go sub.run()

	return func() { h.unsubscribe(sub.id) }
}

func (s *hubSubscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case summary, ok := <-s.ch:
			if !ok {
				return
			}
			s.callback(summary)
		}
	}
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()

	if ok {
		close(sub.done)
	}
}

// Publish delivers a summary to every subscriber whose filter matches.
func (h *Hub) Publish(summary models.PortfolioPLSummary) {
	h.published.Add(1)

	h.mu.RLock()
	subs := make([]*hubSubscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		filtered, ok := filterSummary(summary, sub.opts)
		if !ok {
			continue
		}
		select {
		case sub.ch <- filtered:
		default:
			sub.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
}

// filterSummary applies a subscriber's filters. The second return is false
// when the filtered result should be suppressed for this cycle.
func filterSummary(summary models.PortfolioPLSummary, opts SubscriptionOptions) (models.PortfolioPLSummary, bool) {
	if len(opts.Symbols) == 0 && opts.MinChangeThreshold == 0 {
		return summary, true
	}

	allowed := make(map[string]bool, len(opts.Symbols))
	for _, s := range opts.Symbols {
		allowed[s] = true
	}

	filtered := make([]models.PLUpdate, 0, len(summary.Positions))
	for _, pos := range summary.Positions {
		if len(allowed) > 0 && !allowed[pos.Symbol] {
			continue
		}
		if opts.MinChangeThreshold > 0 {
			pct := pos.PercentChange
			if pct < 0 {
				pct = -pct
			}
			if pct < opts.MinChangeThreshold {
				continue
			}
		}
		filtered = append(filtered, pos)
	}

	if len(filtered) == 0 {
		return models.PortfolioPLSummary{}, false
	}

	out := summary
	out.Positions = filtered
	return out, true
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Stats reports hub counters.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		Subscribers: h.SubscriberCount(),
	}
}

// HubStats contains hub counters.
type HubStats struct {
	Published   uint64
	Dropped     uint64
	Subscribers int
}
