package cli

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"optionsim/internal/adaptive"
	"optionsim/internal/cache"
	"optionsim/internal/marketdata"
	"optionsim/internal/models"
	"optionsim/internal/performance"
	"optionsim/internal/pnl"
	"optionsim/internal/stream"
)

// paperPortfolio is the in-memory account state the pipeline computes
// over. Flushed write-backs update the price and P&L fields in place.
type paperPortfolio struct {
	mu        sync.RWMutex
	positions []models.Position
	cash      float64
	realized  float64
}

func newPaperPortfolio() *paperPortfolio {
	return &paperPortfolio{
		cash: 25000,
		positions: []models.Position{
			{
				ID:            "pos-1",
				Symbol:        "MSTY",
				Type:          models.InstrumentStock,
				PositionType:  models.PositionLong,
				Quantity:      100,
				PurchasePrice: 24.50,
			},
			{
				ID:            "pos-2",
				Symbol:        "TSLY",
				Type:          models.InstrumentStock,
				PositionType:  models.PositionLong,
				Quantity:      200,
				PurchasePrice: 11.80,
			},
			{
				ID:            "pos-3",
				Symbol:        "TSLY",
				Type:          models.InstrumentCall,
				PositionType:  models.PositionShort,
				Quantity:      2,
				Strike:        13,
				Expiry:        time.Now().AddDate(0, 1, 0),
				PurchasePrice: 0.45,
			},
			{
				ID:            "pos-4",
				Symbol:        "NVDY",
				Type:          models.InstrumentPut,
				PositionType:  models.PositionLong,
				Quantity:      1,
				Strike:        20,
				Expiry:        time.Now().AddDate(0, 2, 0),
				PurchasePrice: 1.10,
			},
		},
	}
}

func (p *paperPortfolio) Positions() []models.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Position, len(p.positions))
	copy(out, p.positions)
	return out
}

func (p *paperPortfolio) CashBalance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

func (p *paperPortfolio) RealizedPL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realized
}

// applyWrites is the flush target for the engine's write buffer.
func (p *paperPortfolio) applyWrites(writes []pnl.PositionWrite) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, write := range writes {
		for i := range p.positions {
			if p.positions[i].ID == write.PositionID {
				p.positions[i].CurrentPrice = write.Price
				p.positions[i].UnrealizedPL = write.UnrealizedPL
			}
		}
	}
}

func (p *paperPortfolio) symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, pos := range p.positions {
		if !seen[pos.Symbol] {
			seen[pos.Symbol] = true
			out = append(out, pos.Symbol)
		}
	}
	return out
}

// pipeline bundles the wired-together runtime components.
type pipeline struct {
	portfolio  *paperPortfolio
	priceCache *cache.PriceCache
	gateway    *marketdata.Gateway
	pool       *performance.WorkerPool
	transport  *stream.Transport
	hub        *stream.Hub
	engine     *pnl.Engine
	controller *adaptive.Controller
}

// buildPipeline wires every component from configuration. Providers come
// from config when present; otherwise a seeded paper provider keeps the
// pipeline usable offline.
func buildPipeline(app *App) *pipeline {
	cfg := app.Config
	portfolio := newPaperPortfolio()

	var providers []marketdata.Provider
	for _, pc := range cfg.Gateway.Providers {
		providers = append(providers, marketdata.NewHTTPProvider(marketdata.HTTPProviderConfig{
			Name:    pc.Name,
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey,
			Timeout: pc.Timeout,
		}))
	}
	if len(providers) == 0 {
		providers = append(providers, newPaperProvider(portfolio))
	}

	gateway := marketdata.NewGateway(marketdata.GatewayConfig{
		RetryAttempts: cfg.Gateway.RetryAttempts,
		RetryDelay:    cfg.Gateway.RetryDelay,
		CacheTTL:      cfg.Gateway.CacheTTL,
		BatchSize:     cfg.Gateway.BatchSize,
		BatchDelay:    cfg.Gateway.BatchDelay,
	}, providers, app.Logger)

	priceCache := cache.NewPriceCache(cfg.Gateway.PriceCacheSize)
	source := pnl.NewCachedPriceSource(priceCache, gateway)

	pool := performance.NewWorkerPool(4)

	transport := stream.NewTransport(stream.TransportConfig{
		ThrottleInterval:     cfg.Stream.ThrottleInterval,
		InboundMinInterval:   100 * time.Millisecond,
		BatchSize:            cfg.Stream.BatchSize,
		QueueLimit:           cfg.Stream.QueueLimit,
		OffloadThreshold:     cfg.Stream.OffloadThreshold,
		ReconnectBaseDelay:   cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Stream.ReconnectMaxDelay,
		ReconnectMaxAttempts: cfg.Stream.ReconnectMaxAttempts,
	}, pool, app.Logger)

	hub := stream.NewHub(app.Logger)

	engine := pnl.NewEngine(pnl.EngineConfig{
		BaseInterval:     cfg.PL.BaseInterval,
		DebounceInterval: cfg.PL.DebounceInterval,
		HeartbeatEvery:   cfg.PL.HeartbeatEvery,
		PriceEpsilon:     cfg.PL.PriceEpsilon,
	}, pnl.EngineDeps{
		Prices:          source,
		Portfolio:       portfolio,
		Publisher:       hub,
		Flush:           portfolio.applyWrites,
		QueueSize:       func() int { return transport.Stats().QueueSize },
		SubscriberCount: func() int { return hub.SubscriberCount() },
	}, app.Logger)

	controller := adaptive.NewController(adaptive.ControllerConfig{
		MonitorInterval:     cfg.PL.MonitorInterval,
		VolatilityThreshold: cfg.PL.VolatilityPercent,
		FastInterval:        cfg.PL.FastInterval,
		BaseInterval:        cfg.PL.BaseInterval,
		HighMessageRate:     cfg.PL.HighMessageRate,
		LowMessageRate:      cfg.PL.LowMessageRate,
		MinThrottle:         cfg.PL.ThrottleMinClamp,
		MaxThrottle:         cfg.PL.ThrottleMaxClamp,
		ThrottleNudgeRatio:  cfg.PL.ThrottleNudgeRatio,
	}, transport, engine, app.Logger)

	transport.OnBatch(engine.ApplyBatch)

	return &pipeline{
		portfolio:  portfolio,
		priceCache: priceCache,
		gateway:    gateway,
		pool:       pool,
		transport:  transport,
		hub:        hub,
		engine:     engine,
		controller: controller,
	}
}

// newPaperProvider seeds a static provider with plausible quotes for every
// symbol in the portfolio.
func newPaperProvider(portfolio *paperPortfolio) *marketdata.StaticProvider {
	provider := marketdata.NewStaticProvider("paper")
	seeds := map[string]float64{
		"MSTY": 25.10,
		"TSLY": 12.05,
		"NVDY": 21.40,
		"CONY": 14.20,
		"ULTY": 8.75,
		"YMAX": 16.30,
	}
	for _, symbol := range portfolio.symbols() {
		price, ok := seeds[symbol]
		if !ok {
			price = 20
		}
		provider.SetQuote(models.Quote{
			Symbol:    symbol,
			Price:     price,
			Volume:    100000,
			Timestamp: time.Now(),
		})
	}
	return provider
}

// runPaperTicker random-walks prices for the portfolio symbols and feeds
// them through the streamed-price path, standing in for a live feed.
func (p *pipeline) runPaperTicker(ctx context.Context, interval time.Duration) {
	symbols := p.portfolio.symbols()
	prices := make(map[string]float64)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var batchID uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			updates := make([]models.PriceUpdate, 0, len(symbols))
			for _, symbol := range symbols {
				price, ok := prices[symbol]
				if !ok {
					quote, err := p.gateway.GetQuote(ctx, symbol)
					if err != nil {
						continue
					}
					price = quote.Price
				}
				price = price * (1 + (rand.Float64()-0.5)*0.01)
				prices[symbol] = price
				updates = append(updates, models.PriceUpdate{
					Symbol:    symbol,
					Price:     price,
					Timestamp: now,
				})
			}
			if len(updates) == 0 {
				continue
			}
			batchID++
			p.engine.ApplyBatch(models.BatchedUpdate{
				Updates:   updates,
				Timestamp: now,
				BatchID:   batchID,
			})
		}
	}
}
