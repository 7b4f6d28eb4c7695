package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	DefaultQueueSize   = 1024
	DefaultSendTimeout = 5 * time.Second
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("history dispatcher closed")

// ErrQueueFull is returned by Enqueue when the buffer is saturated; the event
// is dropped so that lifecycle operations never block on a slow sink.
var ErrQueueFull = errors.New("history queue full")

type DispatcherOptions struct {
	QueueSize   int
	SendTimeout time.Duration
	// Consecutive failures before a sink's breaker opens.
	FailureThreshold uint32
	// How long an open breaker waits before letting a trial write through.
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

type guardedSink struct {
	sink Sink
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// Dispatcher fans events out to sinks from a single background goroutine.
// Each sink sits behind its own circuit breaker so one dead backend does not
// slow delivery to the others.
type Dispatcher struct {
	sinks   []guardedSink
	queue   chan Event
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(sinks []Sink, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	d := &Dispatcher{
		queue:   make(chan Event, opts.QueueSize),
		timeout: opts.SendTimeout,
		log:     opts.Logger.With("component", "history"),
		done:    make(chan struct{}),
	}
	threshold := opts.FailureThreshold
	for i, s := range sinks {
		if s == nil {
			continue
		}
		log := d.log
		d.sinks = append(d.sinks, guardedSink{
			sink: s,
			cb: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
				Name:        fmt.Sprintf("history-sink-%d-%T", i, s),
				MaxRequests: 1,
				Timeout:     opts.OpenTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= threshold
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					log.Warn("history sink breaker", "sink", name, "from", from.String(), "to", to.String())
				},
			}),
		})
	}
	go d.run()
	return d
}

// Enqueue hands e to the background sender without blocking.
func (d *Dispatcher) Enqueue(e Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- e:
		return nil
	default:
		d.log.Warn("history event dropped", "service", e.Service, "type", string(e.Type))
		return ErrQueueFull
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		for _, g := range d.sinks {
			d.deliver(g, e)
		}
	}
}

func (d *Dispatcher) deliver(g guardedSink, e Event) {
	_, err := g.cb.Execute(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		return struct{}{}, g.sink.Send(ctx, e)
	})
	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		d.log.Debug("history sink skipped", "breaker", g.cb.Name())
	default:
		d.log.Warn("history send failed", "breaker", g.cb.Name(), "error", err)
	}
}

// Close stops accepting events, flushes what is queued and closes every sink
// that implements io.Closer.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done

	var errs []error
	for _, g := range d.sinks {
		if c, ok := g.sink.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
