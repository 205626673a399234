// Package marketdata provides quote providers and the gateway that
// arbitrates between them.
package marketdata

import (
	"context"
	"sync"

	"optionsim/internal/errors"
	"optionsim/internal/models"
)

// Provider abstracts a single quote source.
type Provider interface {
	// Name returns the provider's identifier, stamped into Quote.Source.
	Name() string
	// IsAvailable probes whether the provider can currently serve requests.
	IsAvailable(ctx context.Context) bool
	// GetQuote fetches the latest quote for a symbol.
	GetQuote(ctx context.Context, symbol string) (models.Quote, error)
	// GetOptionChain fetches the option chain for a symbol.
	GetOptionChain(ctx context.Context, symbol string) (models.OptionChainData, error)
}

// StaticProvider serves quotes from an in-memory table. Used as a test
// double and as the paper feed for offline runs.
type StaticProvider struct {
	name      string
	mu        sync.RWMutex
	quotes    map[string]models.Quote
	chains    map[string]models.OptionChainData
	available bool
}

// NewStaticProvider creates an available provider with no quotes.
func NewStaticProvider(name string) *StaticProvider {
	return &StaticProvider{
		name:      name,
		quotes:    make(map[string]models.Quote),
		chains:    make(map[string]models.OptionChainData),
		available: true,
	}
}

// Name implements Provider.
func (p *StaticProvider) Name() string {
	return p.name
}

// IsAvailable implements Provider.
func (p *StaticProvider) IsAvailable(ctx context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.available
}

// SetAvailable toggles the provider's availability.
func (p *StaticProvider) SetAvailable(available bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = available
}

// SetQuote stores a quote to serve.
func (p *StaticProvider) SetQuote(quote models.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[quote.Symbol] = quote
}

// SetOptionChain stores an option chain to serve.
func (p *StaticProvider) SetOptionChain(chain models.OptionChainData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chains[chain.Symbol] = chain
}

// GetQuote implements Provider.
func (p *StaticProvider) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	quote, ok := p.quotes[symbol]
	if !ok {
		return models.Quote{}, errors.Wrapf(errors.ErrSymbolNotFound, "provider %s has no quote for %s", p.name, symbol)
	}
	quote.Source = p.name
	return quote, nil
}

// GetOptionChain implements Provider.
func (p *StaticProvider) GetOptionChain(ctx context.Context, symbol string) (models.OptionChainData, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	chain, ok := p.chains[symbol]
	if !ok {
		return models.OptionChainData{}, errors.Wrapf(errors.ErrSymbolNotFound, "provider %s has no chain for %s", p.name, symbol)
	}
	chain.Source = p.name
	return chain, nil
}

var _ Provider = (*StaticProvider)(nil)
