package pnl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"optionsim/internal/logging"
	"optionsim/internal/models"
	"optionsim/internal/performance"
	"optionsim/pkg/utils"
)

// EngineConfig holds P&L engine configuration.
type EngineConfig struct {
	// BaseInterval is the default recompute period; the adaptive
	// controller switches to a faster one under volatility.
	BaseInterval time.Duration
	// DebounceInterval is the write-coalescing flush window.
	DebounceInterval time.Duration
	// HeartbeatEvery forces an unconditional publish every Nth cycle even
	// when nothing changed.
	HeartbeatEvery int
	// PriceEpsilon is the minimum price move that triggers recomputation
	// for a position; smaller moves reuse the cached result.
	PriceEpsilon float64
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BaseInterval:     5 * time.Second,
		DebounceInterval: 100 * time.Millisecond,
		HeartbeatEvery:   10,
		PriceEpsilon:     0.01,
	}
}

// PortfolioSource supplies the positions and balances the engine computes
// over. Application state owns this data; the engine only reads it.
type PortfolioSource interface {
	Positions() []models.Position
	CashBalance() float64
	RealizedPL() float64
}

// Publisher receives computed portfolio summaries. The stream hub
// satisfies this.
type Publisher interface {
	Publish(summary models.PortfolioPLSummary)
}

// Engine computes per-position and portfolio-level P&L from a price
// snapshot. Results for positions whose price moved less than the epsilon
// are reused from the previous cycle.
type Engine struct {
	config    EngineConfig
	prices    PriceSource
	portfolio PortfolioSource
	publisher Publisher
	writes    *WriteBuffer
	logger    zerolog.Logger
	tracker   *performance.Tracker

	mu        sync.Mutex
	plCache   map[string]models.PLUpdate
	lastPrice map[string]float64
	dayOpen   map[string]float64

	updateCount atomic.Uint64
	intervalNs  atomic.Int64
	running     atomic.Bool
	done        chan struct{}
	wg          sync.WaitGroup

	queueSize       func() int
	subscriberCount func() int
}

// EngineDeps bundles the engine's collaborators.
type EngineDeps struct {
	Prices    PriceSource
	Portfolio PortfolioSource
	Publisher Publisher
	Flush     FlushFunc
	// QueueSize and SubscriberCount feed the metrics snapshot; nil is
	// treated as zero.
	QueueSize       func() int
	SubscriberCount func() int
}

// NewEngine creates a P&L engine.
func NewEngine(cfg EngineConfig, deps EngineDeps, logger zerolog.Logger) *Engine {
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = DefaultEngineConfig().HeartbeatEvery
	}
	if cfg.PriceEpsilon <= 0 {
		cfg.PriceEpsilon = DefaultEngineConfig().PriceEpsilon
	}
	e := &Engine{
		config:          cfg,
		prices:          deps.Prices,
		portfolio:       deps.Portfolio,
		publisher:       deps.Publisher,
		writes:          NewWriteBuffer(cfg.DebounceInterval, deps.Flush),
		logger:          logging.WithComponent(logger, "pnl"),
		tracker:         performance.NewTracker(),
		plCache:         make(map[string]models.PLUpdate),
		lastPrice:       make(map[string]float64),
		dayOpen:         make(map[string]float64),
		done:            make(chan struct{}),
		queueSize:       deps.QueueSize,
		subscriberCount: deps.SubscriberCount,
	}
	e.intervalNs.Store(int64(cfg.BaseInterval))
	return e
}

// ComputePortfolioPL recomputes P&L for the given positions against the
// current price snapshot. Positions whose symbol cannot be resolved are
// skipped and logged, never failing the batch.
func (e *Engine) ComputePortfolioPL(ctx context.Context, positions []models.Position, cashBalance, realizedPL float64) models.PortfolioPLSummary {
	start := time.Now()

	prices := e.resolvePrices(ctx, positions)

	e.mu.Lock()
	updates := make([]models.PLUpdate, 0, len(positions))
	changed := 0
	totalUnrealized := 0.0
	totalValue := cashBalance
	dayChange := 0.0

	for i := range positions {
		pos := &positions[i]
		price, ok := prices[pos.Symbol]
		if !ok {
			continue
		}

		update, isNew := e.computePosition(pos, price)
		updates = append(updates, update)
		if isNew {
			changed++
			e.writes.Add(PositionWrite{
				PositionID:    pos.ID,
				Symbol:        pos.Symbol,
				Price:         price,
				UnrealizedPL:  update.UnrealizedPL,
				PercentChange: update.PercentChange,
			})
		}

		totalUnrealized += update.UnrealizedPL
		totalValue += pos.MarketValue(price)

		open, seen := e.dayOpen[pos.Symbol]
		if !seen {
			e.dayOpen[pos.Symbol] = price
			open = price
		}
		move := (price - open) * pos.AbsQuantity() * pos.Multiplier()
		if pos.PositionType == models.PositionShort {
			move = -move
		}
		dayChange += move
	}
	e.mu.Unlock()

	count := e.updateCount.Add(1)

	dayChangePercent := 0.0
	if baseline := totalValue - dayChange; baseline != 0 {
		dayChangePercent = utils.Round2(dayChange / baseline * 100)
	}

	summary := models.PortfolioPLSummary{
		TotalUnrealizedPL: utils.Round2(totalUnrealized),
		TotalRealizedPL:   utils.Round2(realizedPL),
		TotalValue:        utils.Round2(totalValue),
		DayChange:         utils.Round2(dayChange),
		DayChangePercent:  dayChangePercent,
		Positions:         updates,
		Timestamp:         time.Now(),
		UpdateCount:       count,
	}

	took := time.Since(start)
	e.tracker.Record(took)
	logging.LogPLCycle(e.logger, count, len(updates), changed, summary.TotalUnrealizedPL, took)

	// Subscribers only hear about cycles that changed something, except
	// the periodic heartbeat.
	if e.publisher != nil && (changed > 0 || count%uint64(e.config.HeartbeatEvery) == 0) {
		e.publisher.Publish(summary)
	}

	return summary
}

// resolvePrices fetches one price per distinct symbol.
func (e *Engine) resolvePrices(ctx context.Context, positions []models.Position) map[string]float64 {
	prices := make(map[string]float64)
	for i := range positions {
		symbol := positions[i].Symbol
		if _, done := prices[symbol]; done {
			continue
		}
		price, err := e.prices.Price(ctx, symbol)
		if err != nil {
			logger := logging.WithSymbol(e.logger, symbol)
			logger.Warn().Err(err).Msg("Price unresolved, skipping positions")
			continue
		}
		prices[symbol] = price
	}
	return prices
}

// computePosition returns the PLUpdate for one position, reusing the
// cached result when the price moved less than the epsilon. The second
// return reports whether a fresh computation happened. Caller holds e.mu.
func (e *Engine) computePosition(pos *models.Position, price float64) (models.PLUpdate, bool) {
	last, hasLast := e.lastPrice[pos.ID]
	cached, hasCached := e.plCache[pos.ID]

	if hasLast && hasCached && abs(price-last) < e.config.PriceEpsilon {
		cached.HasChanged = false
		e.plCache[pos.ID] = cached
		return cached, false
	}

	mult := pos.Multiplier()
	qty := pos.AbsQuantity()
	costBasis := pos.PurchasePrice * qty * mult
	currentValue := price * qty * mult

	var unrealized float64
	if pos.PositionType == models.PositionShort {
		unrealized = costBasis - currentValue
	} else {
		unrealized = currentValue - costBasis
	}

	percentChange := 0.0
	if pos.PurchasePrice != 0 {
		percentChange = (price - pos.PurchasePrice) / pos.PurchasePrice * 100
	}

	update := models.PLUpdate{
		PositionID:    pos.ID,
		Symbol:        pos.Symbol,
		CurrentPrice:  price,
		UnrealizedPL:  utils.Round2(unrealized),
		PercentChange: utils.Round2(percentChange),
		Timestamp:     time.Now(),
		HasChanged:    true,
	}

	e.lastPrice[pos.ID] = price
	e.plCache[pos.ID] = update
	return update, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ApplyBatch folds a drained transport batch into the price snapshot so
// the next recompute cycle sees streamed prices.
func (e *Engine) ApplyBatch(batch models.BatchedUpdate) {
	if applier, ok := e.prices.(interface{ Apply(models.BatchedUpdate) }); ok {
		applier.Apply(batch)
	}
}

// MaxAbsPercentChange reports the largest absolute percent change across
// cached P&L results. The adaptive controller uses it as the volatility
// signal.
func (e *Engine) MaxAbsPercentChange() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	max := 0.0
	for _, update := range e.plCache {
		pct := abs(update.PercentChange)
		if pct > max {
			max = pct
		}
	}
	return max
}

// Start launches the periodic recompute loop.
func (e *Engine) Start(ctx context.Context) {
	if e.running.Swap(true) {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		timer := time.NewTimer(e.UpdateInterval())
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-e.done:
				return
			case <-timer.C:
				e.ComputePortfolioPL(ctx, e.portfolio.Positions(), e.portfolio.CashBalance(), e.portfolio.RealizedPL())
				timer.Reset(e.UpdateInterval())
			}
		}
	}()
}

// Stop halts the recompute loop and flushes pending writes.
func (e *Engine) Stop() {
	if !e.running.Swap(false) {
		return
	}
	close(e.done)
	e.wg.Wait()
	e.done = make(chan struct{})
	e.writes.Flush()
}

// SetUpdateInterval adjusts the recompute period. Called by the adaptive
// controller.
func (e *Engine) SetUpdateInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	e.intervalNs.Store(int64(d))
}

// UpdateInterval returns the current recompute period.
func (e *Engine) UpdateInterval() time.Duration {
	return time.Duration(e.intervalNs.Load())
}

// Writes exposes the coalescing buffer, mainly for explicit flushes.
func (e *Engine) Writes() *WriteBuffer {
	return e.writes
}

// MetricsSnapshot assembles the read-only metrics export.
func (e *Engine) MetricsSnapshot() performance.Metrics {
	total, avg, max := e.tracker.Snapshot()

	queueSize := 0
	if e.queueSize != nil {
		queueSize = e.queueSize()
	}
	subscribers := 0
	if e.subscriberCount != nil {
		subscribers = e.subscriberCount()
	}

	return performance.Metrics{
		AverageUpdateTime: avg,
		MaxUpdateTime:     max,
		TotalUpdates:      total,
		CacheHitRate:      e.prices.HitRate(),
		QueueSize:         queueSize,
		SubscriberCount:   subscribers,
		IsRunning:         e.running.Load(),
		UpdateFrequency:   e.UpdateInterval(),
	}
}
