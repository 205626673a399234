package cache

import (
	"sync"
	"time"

	"optionsim/internal/models"
)

// DefaultQuoteTTL is how long a cached quote is considered fresh.
const DefaultQuoteTTL = 5 * time.Minute

type quoteEntry struct {
	quote    models.Quote
	storedAt time.Time
}

// QuoteCache caches gateway quotes with a TTL. Entries older than the TTL
// are treated as absent and purged lazily on the next read.
type QuoteCache struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]quoteEntry
	now     func() time.Time
}

// NewQuoteCache creates a quote cache with the given TTL.
// Non-positive TTLs fall back to the default.
func NewQuoteCache(ttl time.Duration) *QuoteCache {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	return &QuoteCache{
		ttl:     ttl,
		entries: make(map[string]quoteEntry),
		now:     time.Now,
	}
}

// Get returns the cached quote for symbol if present and fresh.
func (c *QuoteCache) Get(symbol string) (models.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[symbol]
	if !ok {
		return models.Quote{}, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, symbol)
		return models.Quote{}, false
	}
	return entry.quote, true
}

// Set stores a quote.
func (c *QuoteCache) Set(quote models.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[quote.Symbol] = quoteEntry{quote: quote, storedAt: c.now()}
}

// Len returns the number of entries, including any not yet purged.
func (c *QuoteCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SetClock overrides the cache clock. Intended for tests.
func (c *QuoteCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
