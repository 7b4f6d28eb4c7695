package events

import (
	"sync"
	"time"

	"github.com/loykin/svcmgr/internal/service"
)

// StatusChange is published for every accepted state transition.
type StatusChange struct {
	Service string        `json:"service"`
	From    service.State `json:"-"`
	To      service.State `json:"-"`
	At      time.Time     `json:"at"`
}

// ErrorEvent is published whenever a service reports a failure.
type ErrorEvent struct {
	Service string            `json:"service"`
	Kind    service.ErrorKind `json:"-"`
	Message string            `json:"message"`
	At      time.Time         `json:"at"`
}

type (
	StatusFunc func(StatusChange)
	ErrorFunc  func(ErrorEvent)
)

type statusSub struct {
	id uint64
	fn StatusFunc
}

type errorSub struct {
	id uint64
	fn ErrorFunc
}

// Bus is an observer list for status-change and error subscribers.
// Subscribing, unsubscribing and publishing are all safe for concurrent use.
// Publishing takes a snapshot of the subscribers and invokes them outside the
// lock, in subscription order, on the publisher's goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	status []statusSub
	errs   []errorSub
}

func NewBus() *Bus { return &Bus{} }

// OnStatusChange registers fn and returns a function that removes it.
func (b *Bus) OnStatusChange(fn StatusFunc) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.status = append(b.status, statusSub{id: id, fn: fn})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.status {
			if s.id == id {
				b.status = append(b.status[:i:i], b.status[i+1:]...)
				return
			}
		}
	}
}

// OnError registers fn and returns a function that removes it.
func (b *Bus) OnError(fn ErrorFunc) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.errs = append(b.errs, errorSub{id: id, fn: fn})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.errs {
			if s.id == id {
				b.errs = append(b.errs[:i:i], b.errs[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) PublishStatus(ev StatusChange) {
	b.mu.RLock()
	subs := b.status
	b.mu.RUnlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

func (b *Bus) PublishError(ev ErrorEvent) {
	b.mu.RLock()
	subs := b.errs
	b.mu.RUnlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

// Reset drops every subscriber.
func (b *Bus) Reset() {
	b.mu.Lock()
	b.status = nil
	b.errs = nil
	b.mu.Unlock()
}
