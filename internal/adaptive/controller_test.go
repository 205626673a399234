package adaptive

import (
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
)

type fakeTransport struct {
	mu       sync.Mutex
	rate     float64
	throttle time.Duration
	sets     int
}

func (f *fakeTransport) MessageRate() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rate
}

func (f *fakeTransport) ThrottleInterval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.throttle
}

func (f *fakeTransport) SetThrottleInterval(d time.Duration) {
	f.mu.Lock()
	f.throttle = d
	f.sets++
	f.mu.Unlock()
}

type fakeEngine struct {
	volatile  float64
	intervals []time.Duration
}

func (f *fakeEngine) MaxAbsPercentChange() float64 { return f.volatile }

func (f *fakeEngine) SetUpdateInterval(d time.Duration) {
	f.intervals = append(f.intervals, d)
}

func newTestController(throttle time.Duration) (*Controller, *fakeTransport, *fakeEngine) {
	transport := &fakeTransport{throttle: throttle}
	engine := &fakeEngine{}
	controller := NewController(DefaultControllerConfig(), transport, engine, zerolog.Nop())
	return controller, transport, engine
}

func TestTickSwitchesToFastModeOnVolatility(t *testing.T) {
	controller, _, engine := newTestController(time.Second)

	decision := controller.Tick(TickMetrics{MaxAbsPercentChange: 2.5, MessageRate: 50})
	if !decision.ModeChanged || decision.Mode != ModeFast {
		t.Fatalf("decision=%+v, want fast mode switch", decision)
	}
	if len(engine.intervals) != 1 || engine.intervals[0] != time.Second {
		t.Fatalf("engine intervals=%v, want [1s]", engine.intervals)
	}
	if controller.Mode() != ModeFast {
		t.Fatalf("mode=%v", controller.Mode())
	}
}

func TestTickModeTransitionIsEdgeTriggered(t *testing.T) {
	controller, _, engine := newTestController(time.Second)

	controller.Tick(TickMetrics{MaxAbsPercentChange: 3, MessageRate: 50})
	controller.Tick(TickMetrics{MaxAbsPercentChange: 3, MessageRate: 50})
	controller.Tick(TickMetrics{MaxAbsPercentChange: 3, MessageRate: 50})

	if len(engine.intervals) != 1 {
		t.Fatalf("interval written %d times, want once", len(engine.intervals))
	}

	decision := controller.Tick(TickMetrics{MaxAbsPercentChange: 0.5, MessageRate: 50})
	if !decision.ModeChanged || decision.Mode != ModeBase {
		t.Fatalf("decision=%+v, want base mode switch", decision)
	}
	if engine.intervals[1] != 5*time.Second {
		t.Fatalf("base interval=%v, want 5s", engine.intervals[1])
	}
}

func TestTickVolatilityAtThresholdStaysBase(t *testing.T) {
	controller, _, _ := newTestController(time.Second)

	decision := controller.Tick(TickMetrics{MaxAbsPercentChange: 2.0, MessageRate: 50})
	if decision.ModeChanged {
		t.Fatal("exactly at threshold must not switch modes")
	}
}

func TestTickRaisesThrottleUnderLoad(t *testing.T) {
	controller, transport, _ := newTestController(time.Second)

	decision := controller.Tick(TickMetrics{MessageRate: 150})
	if !decision.ThrottleChanged {
		t.Fatal("high message rate must raise the throttle")
	}
	if transport.ThrottleInterval() != 1100*time.Millisecond {
		t.Fatalf("throttle=%v, want 1.1s", transport.ThrottleInterval())
	}
}

func TestTickLowersThrottleWhenQuiet(t *testing.T) {
	controller, transport, _ := newTestController(time.Second)

	controller.Tick(TickMetrics{MessageRate: 5})
	if transport.ThrottleInterval() != 900*time.Millisecond {
		t.Fatalf("throttle=%v, want 0.9s", transport.ThrottleInterval())
	}
}

func TestTickModerateRateLeavesThrottleAlone(t *testing.T) {
	controller, transport, _ := newTestController(time.Second)

	decision := controller.Tick(TickMetrics{MessageRate: 50})
	if decision.ThrottleChanged || transport.sets != 0 {
		t.Fatalf("moderate rate must not touch the throttle: %+v", decision)
	}
}

func TestTickUsesConfiguredNudgeRatio(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.ThrottleNudgeRatio = 0.5
	transport := &fakeTransport{throttle: time.Second}
	controller := NewController(cfg, transport, &fakeEngine{}, zerolog.Nop())

	controller.Tick(TickMetrics{MessageRate: 150})
	if transport.ThrottleInterval() != 1500*time.Millisecond {
		t.Fatalf("throttle=%v, want 1.5s with ratio 0.5", transport.ThrottleInterval())
	}

	controller.Tick(TickMetrics{MessageRate: 5})
	if transport.ThrottleInterval() != 750*time.Millisecond {
		t.Fatalf("throttle=%v, want 0.75s with ratio 0.5", transport.ThrottleInterval())
	}
}

func TestTickThrottleClampsAtBounds(t *testing.T) {
	cfg := DefaultControllerConfig()

	controller, transport, _ := newTestController(cfg.MaxThrottle)
	controller.Tick(TickMetrics{MessageRate: 500})
	if transport.ThrottleInterval() != cfg.MaxThrottle {
		t.Fatalf("throttle=%v, want clamp at %v", transport.ThrottleInterval(), cfg.MaxThrottle)
	}

	controller, transport, _ = newTestController(cfg.MinThrottle)
	controller.Tick(TickMetrics{MessageRate: 1})
	if transport.ThrottleInterval() != cfg.MinThrottle {
		t.Fatalf("throttle=%v, want clamp at %v", transport.ThrottleInterval(), cfg.MinThrottle)
	}
}

func TestProperty_ThrottleStaysWithinBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	cfg := DefaultControllerConfig()

	properties.Property("throttle never escapes [min, max] under any rate sequence", prop.ForAll(
		func(rates []int) bool {
			controller, transport, _ := newTestController(time.Second)
			for _, r := range rates {
				controller.Tick(TickMetrics{MessageRate: float64(r)})
				throttle := transport.ThrottleInterval()
				if throttle < cfg.MinThrottle || throttle > cfg.MaxThrottle {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
