package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"optionsim/internal/logging"
	"optionsim/internal/models"
	"optionsim/internal/performance"
	"optionsim/pkg/utils"
)

// TransportConfig holds streaming transport configuration.
type TransportConfig struct {
	// ThrottleInterval is the batch drain period. The adaptive controller
	// tunes it at runtime via SetThrottleInterval.
	ThrottleInterval time.Duration
	// InboundMinInterval drops per-symbol messages arriving faster than
	// this interval before they are queued.
	InboundMinInterval time.Duration
	BatchSize          int
	QueueLimit         int
	OffloadThreshold   int

	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
}

// DefaultTransportConfig returns the default transport configuration.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ThrottleInterval:     time.Second,
		InboundMinInterval:   100 * time.Millisecond,
		BatchSize:            50,
		QueueLimit:           1000,
		OffloadThreshold:     performance.DefaultOffloadThreshold,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectMaxAttempts: 10,
	}
}

// feedSocket is the minimal surface the transport needs from a websocket
// connection. Tests substitute an in-memory implementation.
type feedSocket interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// DialFunc opens a feed connection to a URL.
type DialFunc func(ctx context.Context, url string) (feedSocket, error)

func gorillaDial(ctx context.Context, url string) (feedSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type feedConn struct {
	url     string
	socket  feedSocket
	writeMu sync.Mutex
	closed  atomic.Bool
}

func (c *feedConn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.socket.WriteJSON(v)
}

// SubscribeOptions configure a per-symbol subscription.
type SubscribeOptions struct {
	// ThrottleMs suppresses deliveries to this subscriber arriving faster
	// than the interval. Zero disables throttling.
	ThrottleMs time.Duration
	// MinChangeThreshold suppresses deliveries whose absolute percent
	// change from the last delivered price is below the threshold.
	MinChangeThreshold float64
}

type symbolSubscriber struct {
	id            uint64
	callback      func(models.PriceUpdate)
	opts          SubscribeOptions
	lastDelivered time.Time
	lastPrice     float64
	hasPrice      bool
}

// Transport maintains persistent feed connections, queues inbound messages
// with throttling and duplicate suppression, and drains them in periodic
// batches. Ingestion and draining are independent: a drain cycle only
// processes what was queued at drain start.
type Transport struct {
	config TransportConfig
	logger zerolog.Logger
	dial   DialFunc

	mu    sync.RWMutex
	conns map[string]*feedConn
	subs  map[string][]*symbolSubscriber

	queue  *messageQueue
	inline performance.BatchProcessor
	pooled performance.BatchProcessor

	batchHandlersMu sync.RWMutex
	batchHandlers   []func(models.BatchedUpdate)

	// Inbound throttle / distinct-filter state, touched only by read loops.
	inboundMu   sync.Mutex
	lastSeen    map[string]time.Time
	lastPayload map[string]models.PriceUpdate

	throttleNs atomic.Int64
	batchID    atomic.Uint64
	nextSubID  atomic.Uint64
	reconnects atomic.Uint64
	parseDrops atomic.Uint64

	msgCount   atomic.Uint64
	rateMu     sync.Mutex
	rateCount  uint64
	rateSample time.Time

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewTransport creates a transport. pool may be nil to disable worker
// offload for large batches.
func NewTransport(cfg TransportConfig, pool *performance.WorkerPool, logger zerolog.Logger) *Transport {
	t := &Transport{
		config:      cfg,
		logger:      logging.WithComponent(logger, "transport"),
		dial:        gorillaDial,
		conns:       make(map[string]*feedConn),
		subs:        make(map[string][]*symbolSubscriber),
		queue:       newMessageQueue(cfg.QueueLimit, cfg.BatchSize),
		inline:      performance.InlineProcessor{},
		lastSeen:    make(map[string]time.Time),
		lastPayload: make(map[string]models.PriceUpdate),
		done:        make(chan struct{}),
		rateSample:  time.Now(),
	}
	if pool != nil {
		t.pooled = performance.NewPooledProcessor(pool)
	}
	t.throttleNs.Store(int64(cfg.ThrottleInterval))
	return t
}

// SetDialer overrides the dial function. Intended for tests.
func (t *Transport) SetDialer(dial DialFunc) {
	t.dial = dial
}

// Connect establishes the logical connection for a URL and starts the
// drain loop on first use. Connecting an already-connected URL is a no-op.
func (t *Transport) Connect(ctx context.Context, url string) error {
	t.mu.Lock()
	if _, ok := t.conns[url]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	socket, err := t.dial(ctx, url)
	if err != nil {
		return err
	}

	conn := &feedConn{url: url, socket: socket}
	t.mu.Lock()
	t.conns[url] = conn
	t.mu.Unlock()

	t.replaySubscriptions(conn)

	if !t.running.Swap(true) {
		t.wg.Add(1)
		go t.drainLoop(ctx)
	}

	t.wg.Add(1)
	go t.readLoop(ctx, conn)

	t.logger.Info().Str("url", url).Msg("Feed connected")
	return nil
}

// Disconnect closes the connection for a URL, or every connection when the
// URL is empty, and stops the drain loop once nothing remains.
func (t *Transport) Disconnect(url string) {
	t.mu.Lock()
	var toClose []*feedConn
	if url == "" {
		for u, c := range t.conns {
			toClose = append(toClose, c)
			delete(t.conns, u)
		}
	} else if c, ok := t.conns[url]; ok {
		toClose = append(toClose, c)
		delete(t.conns, url)
	}
	// Lifecycle flips happen inside the same critical section that drains
	// the connection map, so an in-flight reconnect either registers its
	// connection here (and gets closed below) or observes running=false and
	// gives up.
	stopping := len(t.conns) == 0 && t.running.Swap(false)
	if stopping {
		close(t.done)
	}
	t.mu.Unlock()

	for _, c := range toClose {
		c.closed.Store(true)
		c.socket.Close()
	}

	if stopping {
		t.wg.Wait()
		t.mu.Lock()
		t.done = make(chan struct{})
		t.mu.Unlock()
	}
}

// replaySubscriptions re-sends subscribe messages for every currently
// subscribed symbol. Subscribing is idempotent on the feed side, so this
// is safe after both first connect and reconnect.
func (t *Transport) replaySubscriptions(conn *feedConn) {
	t.mu.RLock()
	symbols := make([]string, 0, len(t.subs))
	for symbol := range t.subs {
		symbols = append(symbols, symbol)
	}
	t.mu.RUnlock()

	for _, symbol := range symbols {
		if err := conn.writeJSON(NewSubscribeMessage(symbol)); err != nil {
			t.logger.Warn().Str("symbol", symbol).Err(err).Msg("Resubscribe failed")
		}
	}
}

// SubscribeToSymbol registers a callback for individual price updates of a
// symbol and returns an unsubscribe function.
func (t *Transport) SubscribeToSymbol(symbol string, callback func(models.PriceUpdate), opts SubscribeOptions) func() {
	sub := &symbolSubscriber{
		id:       t.nextSubID.Add(1),
		callback: callback,
		opts:     opts,
	}

	t.mu.Lock()
	first := len(t.subs[symbol]) == 0
	t.subs[symbol] = append(t.subs[symbol], sub)
	conns := make([]*feedConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	if first {
		for _, c := range conns {
			if err := c.writeJSON(NewSubscribeMessage(symbol)); err != nil {
				t.logger.Warn().Str("symbol", symbol).Err(err).Msg("Subscribe send failed")
			}
		}
	}

	return func() { t.unsubscribe(symbol, sub.id) }
}

func (t *Transport) unsubscribe(symbol string, id uint64) {
	t.mu.Lock()
	subs := t.subs[symbol]
	for i, s := range subs {
		if s.id == id {
			t.subs[symbol] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	last := len(t.subs[symbol]) == 0
	if last {
		delete(t.subs, symbol)
	}
	conns := make([]*feedConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	if last {
		for _, c := range conns {
			if err := c.writeJSON(NewUnsubscribeMessage(symbol)); err != nil {
				t.logger.Warn().Str("symbol", symbol).Err(err).Msg("Unsubscribe send failed")
			}
		}
	}
}

// OnBatch registers a handler for each drained BatchedUpdate.
func (t *Transport) OnBatch(handler func(models.BatchedUpdate)) {
	t.batchHandlersMu.Lock()
	defer t.batchHandlersMu.Unlock()
	t.batchHandlers = append(t.batchHandlers, handler)
}

// readLoop consumes messages from one connection until it fails or is
// closed, then hands off to the reconnect loop.
func (t *Transport) readLoop(ctx context.Context, conn *feedConn) {
	defer t.wg.Done()

	for {
		_, payload, err := conn.socket.ReadMessage()
		if err != nil {
			if conn.closed.Load() {
				return
			}
			t.logger.Warn().Str("url", conn.url).Err(err).Msg("Feed connection lost")
			t.mu.Lock()
			delete(t.conns, conn.url)
			t.mu.Unlock()
			t.wg.Add(1)
			go t.reconnect(ctx, conn.url)
			return
		}
		t.ingest(payload)
	}
}

// ingest parses, throttles, and distinct-filters one inbound message
// before queueing it. Malformed messages are logged and dropped.
func (t *Transport) ingest(payload []byte) {
	t.msgCount.Add(1)
	t.rateMu.Lock()
	t.rateCount++
	t.rateMu.Unlock()

	update, err := ParsePriceUpdate(payload)
	if err != nil {
		t.parseDrops.Add(1)
		t.logger.Debug().Err(err).Msg("Dropped malformed feed message")
		return
	}

	t.inboundMu.Lock()
	now := time.Now()
	if min := t.config.InboundMinInterval; min > 0 {
		if last, ok := t.lastSeen[update.Symbol]; ok && now.Sub(last) < min {
			t.inboundMu.Unlock()
			return
		}
	}
	if prev, ok := t.lastPayload[update.Symbol]; ok &&
		prev.Price == update.Price && prev.Volume == update.Volume {
		t.inboundMu.Unlock()
		return
	}
	t.lastSeen[update.Symbol] = now
	t.lastPayload[update.Symbol] = update
	t.inboundMu.Unlock()

	t.queue.push(update)
}

// drainLoop periodically drains up to BatchSize queued messages, emits
// per-symbol callbacks, and publishes one BatchedUpdate per cycle.
func (t *Transport) drainLoop(ctx context.Context) {
	defer t.wg.Done()

	timer := time.NewTimer(t.throttleInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-timer.C:
			t.drainOnce()
			timer.Reset(t.throttleInterval())
		}
	}
}

func (t *Transport) drainOnce() {
	batch := t.queue.drain(t.config.BatchSize)
	if len(batch) == 0 {
		return
	}
	start := time.Now()

	processor := performance.SelectProcessor(len(batch), t.config.OffloadThreshold, t.inline, t.pooled)
	processed := processor.Process(batch)

	// Individual updates preserve per-symbol arrival order.
	for _, update := range batch {
		t.deliver(update)
	}

	batchID := t.batchID.Add(1)
	batched := models.BatchedUpdate{
		Updates:   processed.Updates,
		Timestamp: time.Now(),
		BatchID:   batchID,
	}

	t.batchHandlersMu.RLock()
	handlers := make([]func(models.BatchedUpdate), len(t.batchHandlers))
	copy(handlers, t.batchHandlers)
	t.batchHandlersMu.RUnlock()

	for _, handler := range handlers {
		handler(batched)
	}

	logging.LogBatchDrain(t.logger, batchID, len(batch), processed.Collapsed, time.Since(start))
}

// deliver fans one update out to the symbol's subscribers, honoring each
// subscriber's throttle and minimum-change filters.
func (t *Transport) deliver(update models.PriceUpdate) {
	t.mu.Lock()
	subs := t.subs[update.Symbol]
	var targets []func(models.PriceUpdate)
	now := time.Now()
	for _, sub := range subs {
		if sub.opts.ThrottleMs > 0 && !sub.lastDelivered.IsZero() &&
			now.Sub(sub.lastDelivered) < sub.opts.ThrottleMs {
			continue
		}
		if sub.opts.MinChangeThreshold > 0 && sub.hasPrice && sub.lastPrice != 0 {
			pct := (update.Price - sub.lastPrice) / sub.lastPrice * 100
			if pct < 0 {
				pct = -pct
			}
			if pct < sub.opts.MinChangeThreshold {
				continue
			}
		}
		sub.lastDelivered = now
		sub.lastPrice = update.Price
		sub.hasPrice = true
		targets = append(targets, sub.callback)
	}
	t.mu.Unlock()

	for _, callback := range targets {
		callback(update)
	}
}

// reconnect retries the connection with exponential backoff and jitter,
// bounded by the configured max delay and attempt count. Subscribed
// symbols are replayed on success.
func (t *Transport) reconnect(ctx context.Context, url string) {
	defer t.wg.Done()

	for attempt := 0; attempt < t.config.ReconnectMaxAttempts; attempt++ {
		delay := utils.CalculateBackoffWithJitter(attempt, t.config.ReconnectBaseDelay, t.config.ReconnectMaxDelay, 2.0)

		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-time.After(delay):
		}

		socket, err := t.dial(ctx, url)
		if err != nil {
			t.logger.Warn().Str("url", url).Int("attempt", attempt+1).Err(err).Msg("Reconnect attempt failed")
			continue
		}

		conn := &feedConn{url: url, socket: socket}
		t.mu.Lock()
		if !t.running.Load() {
			t.mu.Unlock()
			socket.Close()
			return
		}
		t.conns[url] = conn
		t.mu.Unlock()

		t.reconnects.Add(1)
		t.replaySubscriptions(conn)

		t.wg.Add(1)
		go t.readLoop(ctx, conn)

		t.logger.Info().Str("url", url).Int("attempt", attempt+1).Msg("Feed reconnected")
		return
	}

	t.logger.Error().Str("url", url).Msg("Reconnect attempts exhausted")
}

func (t *Transport) throttleInterval() time.Duration {
	return time.Duration(t.throttleNs.Load())
}

// SetThrottleInterval adjusts the drain period. Called by the adaptive
// controller.
func (t *Transport) SetThrottleInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	t.throttleNs.Store(int64(d))
}

// ThrottleInterval returns the current drain period.
func (t *Transport) ThrottleInterval() time.Duration {
	return t.throttleInterval()
}

// MessageRate returns the inbound message rate in messages per second
// since the previous call, and resets the window.
func (t *Transport) MessageRate() float64 {
	t.rateMu.Lock()
	defer t.rateMu.Unlock()

	now := time.Now()
	elapsed := now.Sub(t.rateSample).Seconds()
	if elapsed <= 0 {
		return 0
	}
	rate := float64(t.rateCount) / elapsed
	t.rateCount = 0
	t.rateSample = now
	return rate
}

// Stats reports transport counters for the metrics snapshot.
func (t *Transport) Stats() TransportStats {
	t.mu.RLock()
	subscribers := 0
	for _, subs := range t.subs {
		subscribers += len(subs)
	}
	conns := len(t.conns)
	t.mu.RUnlock()

	return TransportStats{
		QueueSize:     t.queue.len(),
		QueueDropped:  t.queue.droppedCount(),
		ParseDrops:    t.parseDrops.Load(),
		TotalMessages: t.msgCount.Load(),
		Reconnects:    t.reconnects.Load(),
		Subscribers:   subscribers,
		Connections:   conns,
		IsRunning:     t.running.Load(),
	}
}

// TransportStats contains transport counters.
type TransportStats struct {
	QueueSize     int
	QueueDropped  uint64
	ParseDrops    uint64
	TotalMessages uint64
	Reconnects    uint64
	Subscribers   int
	Connections   int
	IsRunning     bool
}
