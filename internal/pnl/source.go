// Package pnl provides the portfolio P&L engine.
package pnl

import (
	"context"
	"sync/atomic"

	"optionsim/internal/cache"
	"optionsim/internal/models"
)

// QuoteSource resolves a quote when the price cache misses. The market-data
// gateway satisfies this.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (models.Quote, error)
}

// PriceSource resolves the current price for a symbol.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
	HitRate() float64
}

// CachedPriceSource resolves prices cache-first with a quote-source
// fallback, tracking hits and misses for the metrics snapshot. Prices
// resolved via the fallback are written back into the cache.
type CachedPriceSource struct {
	cache  *cache.PriceCache
	quotes QuoteSource

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachedPriceSource creates a price source over the given cache and
// fallback quote source.
func NewCachedPriceSource(priceCache *cache.PriceCache, quotes QuoteSource) *CachedPriceSource {
	return &CachedPriceSource{
		cache:  priceCache,
		quotes: quotes,
	}
}

// Price implements PriceSource.
func (s *CachedPriceSource) Price(ctx context.Context, symbol string) (float64, error) {
	if price, ok := s.cache.Get(symbol); ok {
		s.hits.Add(1)
		return price, nil
	}
	s.misses.Add(1)

	quote, err := s.quotes.GetQuote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	s.cache.Set(symbol, quote.Price)
	return quote.Price, nil
}

// HitRate implements PriceSource.
func (s *CachedPriceSource) HitRate() float64 {
	hits := s.hits.Load()
	misses := s.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Apply stores streamed prices into the cache so the next recompute cycle
// sees them without touching the gateway.
func (s *CachedPriceSource) Apply(batch models.BatchedUpdate) {
	for _, update := range batch.Updates {
		s.cache.Set(update.Symbol, update.Price)
	}
}

var _ PriceSource = (*CachedPriceSource)(nil)
