// Package cache provides the pipeline-owned price caches.
package cache

import (
	"container/list"
	"sync"
)

// DefaultPriceCacheCapacity bounds the LRU price cache.
const DefaultPriceCacheCapacity = 500

type lruEntry struct {
	symbol string
	price  float64
}

// PriceCache is a bounded least-recently-used cache mapping symbol to the
// latest observed price. Get promotes the entry to most-recently-used;
// Set evicts the least-recently-used entry at capacity. There is no TTL:
// freshness is the caller's concern, the cache only bounds memory.
type PriceCache struct {
	capacity int
	mu       sync.Mutex
	order    *list.List
	entries  map[string]*list.Element
}

// NewPriceCache creates a price cache with the given capacity.
// Non-positive capacities fall back to the default.
func NewPriceCache(capacity int) *PriceCache {
	if capacity <= 0 {
		capacity = DefaultPriceCacheCapacity
	}
	return &PriceCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached price for symbol and promotes it to
// most-recently-used. The second return reports presence.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[symbol]
	if !ok {
		return 0, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).price, true
}

// Set stores the price for symbol, evicting the least-recently-used entry
// if the cache is at capacity.
func (c *PriceCache) Set(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[symbol]; ok {
		el.Value.(*lruEntry).price = price
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*lruEntry).symbol)
		}
	}

	c.entries[symbol] = c.order.PushFront(&lruEntry{symbol: symbol, price: price})
}

// Len returns the number of cached symbols.
func (c *PriceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the configured capacity.
func (c *PriceCache) Capacity() int {
	return c.capacity
}

// Symbols returns the cached symbols in most-recently-used order.
func (c *PriceCache) Symbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	symbols := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		symbols = append(symbols, el.Value.(*lruEntry).symbol)
	}
	return symbols
}
