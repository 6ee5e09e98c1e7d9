package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rendis/rigflow/pkg/schema"
)

// BreakerState is the state of one module's breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass
	BreakerOpen                         // calls rejected
	BreakerHalfOpen                     // probing recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes GuardedPLC.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens a module.
	FailureThreshold int
	// Cooldown is how long a module stays open before probing.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe calls allowed while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the configuration used when none is given.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         10 * time.Second,
		HalfOpenMax:      1,
	}
}

// TagIO is the controller surface GuardedPLC wraps.
type TagIO interface {
	Read(ctx context.Context, module, tag string) (any, error)
	Write(ctx context.Context, module, tag string, value any) error
}

type breaker struct {
	state    BreakerState
	failures int
	lastFail time.Time
	probes   int
}

// GuardedPLC rejects calls to a controller module after FailureThreshold
// consecutive failures until Cooldown passes. Unknown tags and cancellations
// do not count as failures.
type GuardedPLC struct {
	inner  TagIO
	config BreakerConfig
	now    func() time.Time

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewGuardedPLC wraps inner. Zero config fields take their defaults.
func NewGuardedPLC(inner TagIO, config BreakerConfig) *GuardedPLC {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = def.HalfOpenMax
	}
	return &GuardedPLC{
		inner:    inner,
		config:   config,
		now:      time.Now,
		breakers: make(map[string]*breaker),
	}
}

func (g *GuardedPLC) Read(ctx context.Context, module, tag string) (any, error) {
	if err := g.allow(module); err != nil {
		return nil, err
	}
	v, err := g.inner.Read(ctx, module, tag)
	g.record(module, err)
	return v, err
}

func (g *GuardedPLC) Write(ctx context.Context, module, tag string, value any) error {
	if err := g.allow(module); err != nil {
		return err
	}
	err := g.inner.Write(ctx, module, tag, value)
	g.record(module, err)
	return err
}

// State returns the breaker state of module.
func (g *GuardedPLC) State(module string) BreakerState {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.get(module)
	if b.state == BreakerOpen && g.now().Sub(b.lastFail) >= g.config.Cooldown {
		b.state = BreakerHalfOpen
		b.probes = 0
	}
	return b.state
}

// Reset closes every breaker.
func (g *GuardedPLC) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.breakers = make(map[string]*breaker)
}

func (g *GuardedPLC) allow(module string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.get(module)

	switch b.state {
	case BreakerOpen:
		since := g.now().Sub(b.lastFail)
		if since < g.config.Cooldown {
			return schema.NewErrorf(schema.ErrCodeAdapter,
				"module %s unavailable after %d consecutive failures", module, b.failures).
				WithDetails(map[string]any{
					"module":             module,
					"state":              b.state.String(),
					"cooldown_remaining": (g.config.Cooldown - since).String(),
				})
		}
		b.state = BreakerHalfOpen
		b.probes = 1
		return nil
	case BreakerHalfOpen:
		if b.probes >= g.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeAdapter, "module %s is recovering, probe in flight", module).
				WithDetails(map[string]any{"module": module, "state": b.state.String()})
		}
		b.probes++
	}
	return nil
}

func (g *GuardedPLC) record(module string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.get(module)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if b.probes > 0 {
			b.probes--
		}
		return
	}
	if !countsAsFailure(err) {
		b.failures = 0
		b.probes = 0
		b.state = BreakerClosed
		return
	}

	b.failures++
	b.lastFail = g.now()
	if b.state == BreakerHalfOpen || b.failures >= g.config.FailureThreshold {
		b.state = BreakerOpen
	}
}

func (g *GuardedPLC) get(module string) *breaker {
	b, ok := g.breakers[module]
	if !ok {
		b = &breaker{state: BreakerClosed}
		g.breakers[module] = b
	}
	return b
}

func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var flowErr *schema.Error
	if errors.As(err, &flowErr) && flowErr.Code == schema.ErrCodeNotFound {
		return false
	}
	return true
}
