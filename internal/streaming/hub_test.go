package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	Run  string
	Kind string
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewHub[testEvent](0)

	ch, cancel, err := hub.Subscribe(context.Background(), nil)
	require.NoError(t, err)
	defer cancel()

	hub.Publish(testEvent{Run: "r1", Kind: "progress"})

	select {
	case got := <-ch:
		assert.Equal(t, "r1", got.Run)
		assert.Equal(t, "progress", got.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFilter(t *testing.T) {
	hub := NewHub[testEvent](4)

	ch, cancel, err := hub.Subscribe(context.Background(), func(e testEvent) bool { return e.Run == "r1" })
	require.NoError(t, err)
	defer cancel()

	hub.Publish(testEvent{Run: "r2"})
	hub.Publish(testEvent{Run: "r1"})

	select {
	case got := <-ch:
		assert.Equal(t, "r1", got.Run)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub[int](2)

	ch, cancel, err := hub.Subscribe(context.Background(), nil)
	require.NoError(t, err)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 2)
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewHub[int](1)

	ch, cancel, err := hub.Subscribe(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers())

	hub.Publish(1) // no panic on closed subscriber
}

func TestContextDoneEndsSubscription(t *testing.T) {
	hub := NewHub[int](1)
	ctx, cancelCtx := context.WithCancel(context.Background())

	ch, _, err := hub.Subscribe(ctx, nil)
	require.NoError(t, err)

	cancelCtx()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after context cancellation")
	}
	assert.Equal(t, 0, hub.Subscribers())
}

func TestSubscribeCancelledContext(t *testing.T) {
	hub := NewHub[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := hub.Subscribe(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentPublish(t *testing.T) {
	hub := NewHub[int](1000)

	ch, cancel, err := hub.Subscribe(context.Background(), nil)
	require.NoError(t, err)
	defer cancel()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				hub.Publish(i)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ch, 500)
}
