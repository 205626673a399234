// Package adaptive tunes pipeline cadence from observed load.
package adaptive

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"optionsim/internal/logging"
)

// ControllerConfig holds the adaptation thresholds and bounds.
type ControllerConfig struct {
	// MonitorInterval is how often the controller samples the pipeline.
	MonitorInterval time.Duration
	// VolatilityThreshold is the absolute percent change beyond which the
	// engine switches to the fast recompute interval.
	VolatilityThreshold float64
	FastInterval        time.Duration
	BaseInterval        time.Duration
	// HighMessageRate and LowMessageRate bound the comfortable inbound
	// message rate, in messages per second.
	HighMessageRate float64
	LowMessageRate  float64
	// ThrottleNudgeRatio is the multiplicative step applied to the drain
	// throttle when the message rate leaves the comfortable band.
	ThrottleNudgeRatio float64
	MinThrottle        time.Duration
	MaxThrottle        time.Duration
}

// DefaultControllerConfig returns the default thresholds.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MonitorInterval:     5 * time.Second,
		VolatilityThreshold: 2.0,
		FastInterval:        1 * time.Second,
		BaseInterval:        5 * time.Second,
		HighMessageRate:     100,
		LowMessageRate:      10,
		ThrottleNudgeRatio:  0.10,
		MinThrottle:         100 * time.Millisecond,
		MaxThrottle:         5 * time.Second,
	}
}

// TransportControls is the slice of the stream transport the controller
// drives.
type TransportControls interface {
	MessageRate() float64
	ThrottleInterval() time.Duration
	SetThrottleInterval(d time.Duration)
}

// EngineControls is the slice of the P&L engine the controller drives.
type EngineControls interface {
	MaxAbsPercentChange() float64
	SetUpdateInterval(d time.Duration)
}

// Mode is the controller's recompute cadence state.
type Mode string

const (
	ModeBase Mode = "base"
	ModeFast Mode = "fast"
)

// TickMetrics is one sample of the signals the controller reacts to.
type TickMetrics struct {
	MaxAbsPercentChange float64
	MessageRate         float64
}

// Decision records what one tick changed, mainly for logs and tests.
type Decision struct {
	Mode             Mode
	UpdateInterval   time.Duration
	ThrottleInterval time.Duration
	ModeChanged      bool
	ThrottleChanged  bool
}

// Controller watches volatility and inbound message rate and nudges the
// engine's recompute interval and the transport's drain throttle. State is
// explicit so each transition happens exactly once.
type Controller struct {
	config    ControllerConfig
	transport TransportControls
	engine    EngineControls
	logger    zerolog.Logger

	mu   sync.Mutex
	mode Mode

	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewController creates a controller over the given transport and engine.
func NewController(cfg ControllerConfig, transport TransportControls, engine EngineControls, logger zerolog.Logger) *Controller {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultControllerConfig().MonitorInterval
	}
	if cfg.ThrottleNudgeRatio <= 0 {
		cfg.ThrottleNudgeRatio = DefaultControllerConfig().ThrottleNudgeRatio
	}
	return &Controller{
		config:    cfg,
		transport: transport,
		engine:    engine,
		logger:    logging.WithComponent(logger, "adaptive"),
		mode:      ModeBase,
		done:      make(chan struct{}),
	}
}

// Mode returns the current cadence state.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Tick applies one adaptation step for the given sample.
func (c *Controller) Tick(metrics TickMetrics) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	decision := Decision{
		Mode:             c.mode,
		ThrottleInterval: c.transport.ThrottleInterval(),
	}

	// Volatility drives the recompute cadence. Transitions are edge
	// triggered so the interval is only written when the mode flips.
	wantMode := ModeBase
	if metrics.MaxAbsPercentChange > c.config.VolatilityThreshold {
		wantMode = ModeFast
	}
	if wantMode != c.mode {
		c.mode = wantMode
		decision.Mode = wantMode
		decision.ModeChanged = true
		if wantMode == ModeFast {
			decision.UpdateInterval = c.config.FastInterval
		} else {
			decision.UpdateInterval = c.config.BaseInterval
		}
		c.engine.SetUpdateInterval(decision.UpdateInterval)
		c.logger.Info().
			Str("mode", string(wantMode)).
			Float64("max_abs_percent_change", metrics.MaxAbsPercentChange).
			Dur("update_interval", decision.UpdateInterval).
			Msg("Recompute cadence switched")
	}

	// Message rate drives the drain throttle, multiplicatively against
	// the current value, clamped to the configured bounds.
	current := c.transport.ThrottleInterval()
	next := current
	switch {
	case metrics.MessageRate > c.config.HighMessageRate:
		next = time.Duration(float64(current) * (1 + c.config.ThrottleNudgeRatio))
	case metrics.MessageRate < c.config.LowMessageRate:
		next = time.Duration(float64(current) * (1 - c.config.ThrottleNudgeRatio))
	}
	next = clampDuration(next, c.config.MinThrottle, c.config.MaxThrottle)
	if next != current {
		c.transport.SetThrottleInterval(next)
		decision.ThrottleInterval = next
		decision.ThrottleChanged = true
		c.logger.Debug().
			Float64("message_rate", metrics.MessageRate).
			Dur("throttle", next).
			Msg("Drain throttle adjusted")
	}

	return decision
}

// Run samples the pipeline every MonitorInterval until the context is
// cancelled or Stop is called.
func (c *Controller) Run(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.config.MonitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-ticker.C:
				c.Tick(TickMetrics{
					MaxAbsPercentChange: c.engine.MaxAbsPercentChange(),
					MessageRate:         c.transport.MessageRate(),
				})
			}
		}
	}()
}

// Stop halts the monitor loop.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	c.done = make(chan struct{})
	c.mu.Unlock()
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
