package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memSink struct {
	mu     sync.Mutex
	events []Event
	fail   atomic.Bool
	calls  atomic.Int32
	closed atomic.Bool
}

func (s *memSink) Send(_ context.Context, e Event) error {
	s.calls.Add(1)
	if s.fail.Load() {
		return errors.New("backend down")
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *memSink) Close() error { s.closed.Store(true); return nil }

func (s *memSink) got() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestNewEvents(t *testing.T) {
	sc := NewStateChange("web", "stopped", "starting")
	assert.Equal(t, EventStateChange, sc.Type)
	assert.Equal(t, "web", sc.Service)
	assert.Equal(t, "starting", sc.To)
	assert.Len(t, sc.ID, 36)
	assert.False(t, sc.OccurredAt.IsZero())

	er := NewError("web", "boom")
	assert.Equal(t, EventError, er.Type)
	assert.Equal(t, "boom", er.Message)
	assert.NotEqual(t, sc.ID, er.ID)
}

func TestDispatcherDeliversInOrderAndFlushesOnClose(t *testing.T) {
	a, b := &memSink{}, &memSink{}
	d := NewDispatcher([]Sink{a, nil, b}, DispatcherOptions{})
	for _, to := range []string{"starting", "running", "stopping", "stopped"} {
		require.NoError(t, d.Enqueue(NewStateChange("web", "", to)))
	}
	require.NoError(t, d.Close())

	for _, s := range []*memSink{a, b} {
		got := s.got()
		require.Len(t, got, 4)
		assert.Equal(t, "starting", got[0].To)
		assert.Equal(t, "stopped", got[3].To)
		assert.True(t, s.closed.Load())
	}
	require.ErrorIs(t, d.Enqueue(NewError("web", "late")), ErrClosed)
	// second close is harmless
	require.NoError(t, d.Close())
}

func TestDispatcherBreakerIsolatesFailingSink(t *testing.T) {
	bad, good := &memSink{}, &memSink{}
	bad.fail.Store(true)
	d := NewDispatcher([]Sink{bad, good}, DispatcherOptions{FailureThreshold: 2, OpenTimeout: time.Hour})
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Enqueue(NewError("db", "x")))
	}
	require.NoError(t, d.Close())

	assert.Len(t, good.got(), 10)
	// breaker opened after two failures; the rest never reached the sink
	assert.Equal(t, int32(2), bad.calls.Load())
}

type blockingSink struct{ release chan struct{} }

func (s blockingSink) Send(ctx context.Context, _ Event) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	s := blockingSink{release: make(chan struct{})}
	d := NewDispatcher([]Sink{s}, DispatcherOptions{QueueSize: 1})
	var full bool
	for i := 0; i < 5; i++ {
		if errors.Is(d.Enqueue(NewError("x", "y")), ErrQueueFull) {
			full = true
		}
	}
	assert.True(t, full, "enqueue must not block on a stuck sink")
	close(s.release)
	require.NoError(t, d.Close())
}
