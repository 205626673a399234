package marketdata

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"optionsim/internal/cache"
	"optionsim/internal/errors"
	"optionsim/internal/logging"
	"optionsim/internal/models"
)

// GatewayConfig holds gateway configuration.
type GatewayConfig struct {
	RetryAttempts int
	RetryDelay    time.Duration
	CacheTTL      time.Duration
	BatchSize     int
	BatchDelay    time.Duration
}

// DefaultGatewayConfig returns the default gateway configuration.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		CacheTTL:      cache.DefaultQuoteTTL,
		BatchSize:     5,
		BatchDelay:    200 * time.Millisecond,
	}
}

// Gateway arbitrates between an ordered list of quote providers: primary
// first, then fallbacks. Provider errors are logged, never propagated;
// only exhaustion of the whole list surfaces an error to the caller.
type Gateway struct {
	config    GatewayConfig
	providers []Provider
	quotes    *cache.QuoteCache
	logger    zerolog.Logger

	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	sleep func(context.Context, time.Duration) error
}

// NewGateway creates a gateway over the given providers, in priority order.
func NewGateway(cfg GatewayConfig, providers []Provider, logger zerolog.Logger) *Gateway {
	return &Gateway{
		config:    cfg,
		providers: providers,
		quotes:    cache.NewQuoteCache(cfg.CacheTTL),
		logger:    logging.WithComponent(logger, "gateway"),
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GetQuote returns a quote for symbol, serving from the TTL cache when
// fresh and walking the provider list otherwise.
func (g *Gateway) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	if quote, ok := g.quotes.Get(symbol); ok {
		g.cacheHits.Add(1)
		logging.LogQuote(g.logger, symbol, quote.Source, quote.Price, true)
		return quote, nil
	}
	g.cacheMisses.Add(1)

	quote, err := g.fetchQuote(ctx, symbol)
	if err != nil {
		return models.Quote{}, err
	}

	g.quotes.Set(quote)
	logging.LogQuote(g.logger, symbol, quote.Source, quote.Price, false)
	return quote, nil
}

// fetchQuote walks the provider list, probing availability and retrying
// each provider with linear backoff. Rate-limited providers are skipped
// for this cycle without further retries.
func (g *Gateway) fetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	var lastErr error

	for _, provider := range g.providers {
		if !provider.IsAvailable(ctx) {
			logging.LogProviderFallback(g.logger, provider.Name(), symbol, "unavailable")
			continue
		}

		quote, err := g.tryProvider(ctx, provider, symbol)
		if err == nil {
			return quote, nil
		}
		lastErr = err
		logging.LogProviderFallback(g.logger, provider.Name(), symbol, err.Error())
	}

	return models.Quote{}, errors.NewMarketDataError(symbol, len(g.providers), lastErr)
}

func (g *Gateway) tryProvider(ctx context.Context, provider Provider, symbol string) (models.Quote, error) {
	var lastErr error

	for attempt := 1; attempt <= g.config.RetryAttempts; attempt++ {
		quote, err := provider.GetQuote(ctx, symbol)
		if err == nil {
			return quote, nil
		}
		lastErr = err

		// A rate-limited provider stays limited for the rest of the cycle;
		// retrying it would only storm the limiter.
		if errors.Is(err, errors.ErrRateLimited) {
			return models.Quote{}, err
		}

		if attempt < g.config.RetryAttempts {
			if err := g.sleep(ctx, g.config.RetryDelay*time.Duration(attempt)); err != nil {
				return models.Quote{}, err
			}
		}
	}

	return models.Quote{}, lastErr
}

// GetOptionChain returns the option chain for symbol via the provider walk.
// Chains are not TTL-cached; they are fetched on demand.
func (g *Gateway) GetOptionChain(ctx context.Context, symbol string) (models.OptionChainData, error) {
	var lastErr error

	for _, provider := range g.providers {
		if !provider.IsAvailable(ctx) {
			logging.LogProviderFallback(g.logger, provider.Name(), symbol, "unavailable")
			continue
		}

		chain, err := provider.GetOptionChain(ctx, symbol)
		if err == nil {
			return chain, nil
		}
		lastErr = err
		logging.LogProviderFallback(g.logger, provider.Name(), symbol, err.Error())
	}

	return models.OptionChainData{}, errors.NewMarketDataError(symbol, len(g.providers), lastErr)
}

// GetMultipleQuotes resolves quotes for many symbols, batching requests in
// fixed-size chunks with an inter-chunk delay to respect provider rate
// limits. A missing quote for one symbol does not fail the batch; it is
// simply absent from the result map.
func (g *Gateway) GetMultipleQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	result := make(map[string]models.Quote, len(symbols))

	for start := 0; start < len(symbols); start += g.config.BatchSize {
		end := start + g.config.BatchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		for _, symbol := range symbols[start:end] {
			quote, err := g.GetQuote(ctx, symbol)
			if err != nil {
				g.logger.Warn().Str("symbol", symbol).Err(err).Msg("Quote missing from batch")
				continue
			}
			result[symbol] = quote
		}

		if end < len(symbols) {
			if err := g.sleep(ctx, g.config.BatchDelay); err != nil {
				return result, err
			}
		}
	}

	return result, nil
}

// CacheStats reports quote-cache hit/miss counters for metrics export.
func (g *Gateway) CacheStats() (hits, misses uint64) {
	return g.cacheHits.Load(), g.cacheMisses.Load()
}

// CacheHitRate returns the fraction of lookups served from the TTL cache.
func (g *Gateway) CacheHitRate() float64 {
	hits := g.cacheHits.Load()
	misses := g.cacheMisses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
