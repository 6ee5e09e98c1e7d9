package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber channel capacity used when NewHub gets 0.
const DefaultBuffer = 64

// Filter decides whether a subscriber receives an event. A nil Filter accepts everything.
type Filter[T any] func(T) bool

// subscriber holds a channel and filter for a single subscriber.
type subscriber[T any] struct {
	ch     chan T
	filter Filter[T]
}

// Hub is an in-memory pub/sub fan-out over channels. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type Hub[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber[T]
	seq    atomic.Uint64
	buffer int
}

// NewHub creates a Hub whose subscriber channels hold buffer events.
func NewHub[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub[T]{
		subs:   make(map[uint64]*subscriber[T]),
		buffer: buffer,
	}
}

// Publish sends an event to all matching subscribers.
func (h *Hub[T]) Publish(event T) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// backpressure: drop event for slow subscriber
		}
	}
}

// Subscribe registers a subscriber. The returned channel is closed when the
// cancel func is called or ctx is done, whichever happens first.
func (h *Hub[T]) Subscribe(ctx context.Context, filter Filter[T]) (<-chan T, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	ch := make(chan T, h.buffer)

	h.mu.Lock()
	h.subs[id] = &subscriber[T]{ch: ch, filter: filter}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, cancel)

	return ch, func() {
		stop()
		cancel()
	}, nil
}

// Subscribers returns the number of live subscriptions.
func (h *Hub[T]) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
