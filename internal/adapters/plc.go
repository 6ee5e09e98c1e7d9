// Package adapters holds in-memory stand-ins for the PLC, the report
// workbook and the operator console.
package adapters

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/rendis/rigflow/pkg/schema"
)

// JitterFunc returns the noise added to a numeric tag on each read.
type JitterFunc func(module, tag string) float64

// SimulatedPLC is a tag table addressed as module.tag.
type SimulatedPLC struct {
	mu      sync.RWMutex
	tags    map[string]any
	faults  map[string]error
	jitter  JitterFunc
	latency time.Duration
}

// PLCOption configures a SimulatedPLC.
type PLCOption func(*SimulatedPLC)

// WithJitter adds noise to numeric reads.
func WithJitter(fn JitterFunc) PLCOption {
	return func(p *SimulatedPLC) { p.jitter = fn }
}

// WithLatency delays every read and write.
func WithLatency(d time.Duration) PLCOption {
	return func(p *SimulatedPLC) { p.latency = d }
}

// NewSimulatedPLC creates a PLC seeded with "Module.Tag" → value entries.
func NewSimulatedPLC(seed map[string]any, opts ...PLCOption) *SimulatedPLC {
	p := &SimulatedPLC{
		tags:   make(map[string]any, len(seed)),
		faults: make(map[string]error),
	}
	for k, v := range seed {
		p.tags[k] = v
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func tagKey(module, tag string) string {
	return module + "." + tag
}

// Read returns the tag value. Unknown tags are NOT_FOUND; injected faults are
// returned as is.
func (p *SimulatedPLC) Read(ctx context.Context, module, tag string) (any, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	key := tagKey(module, tag)
	p.mu.RLock()
	fault := p.faults[key]
	v, ok := p.tags[key]
	jitter := p.jitter
	p.mu.RUnlock()

	if fault != nil {
		return nil, fault
	}
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "tag %s not found", key)
	}
	if jitter != nil {
		if f, err := cast.ToFloat64E(v); err == nil {
			if _, isBool := v.(bool); !isBool {
				return f + jitter(module, tag), nil
			}
		}
	}
	return v, nil
}

// Write stores value, creating the tag when needed.
func (p *SimulatedPLC) Write(ctx context.Context, module, tag string, value any) error {
	if err := p.wait(ctx); err != nil {
		return err
	}

	key := tagKey(module, tag)
	p.mu.Lock()
	defer p.mu.Unlock()
	if fault := p.faults[key]; fault != nil {
		return fault
	}
	p.tags[key] = value
	return nil
}

// SetTag sets a tag directly, bypassing faults and latency.
func (p *SimulatedPLC) SetTag(module, tag string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tags[tagKey(module, tag)] = value
}

// Tag returns the stored value without jitter.
func (p *SimulatedPLC) Tag(module, tag string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.tags[tagKey(module, tag)]
	return v, ok
}

// Tags returns the known tag keys, sorted.
func (p *SimulatedPLC) Tags() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.tags))
	for k := range p.tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InjectFault makes every access to module.tag fail with err until cleared.
func (p *SimulatedPLC) InjectFault(module, tag string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults[tagKey(module, tag)] = err
}

// ClearFault removes an injected fault.
func (p *SimulatedPLC) ClearFault(module, tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.faults, tagKey(module, tag))
}

func (p *SimulatedPLC) wait(ctx context.Context) error {
	if p.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
