package service

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/svcmgr/internal/process"
)

type fakeHandle struct {
	pid        int
	ignoreTerm bool
	done       chan struct{}
	once       sync.Once
	terms      atomic.Int32
	kills      atomic.Int32
}

func (h *fakeHandle) exit()                      { h.once.Do(func() { close(h.done) }) }
func (h *fakeHandle) PID() int                   { return h.pid }
func (h *fakeHandle) Identity() process.Identity { return process.Identity{PID: h.pid, StartUnix: 1} }
func (h *fakeHandle) ExitErr() error             { return errors.New("exit status 1") }

func (h *fakeHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *fakeHandle) Terminate() error {
	h.terms.Add(1)
	if !h.ignoreTerm {
		h.exit()
	}
	return nil
}

func (h *fakeHandle) Kill() error {
	h.kills.Add(1)
	h.exit()
	return nil
}

func (h *fakeHandle) Wait(timeout time.Duration) (process.ExitResult, error) {
	if timeout < 0 {
		<-h.done
		return process.Exited, nil
	}
	select {
	case <-h.done:
		return process.Exited, nil
	case <-time.After(timeout):
		return process.StillRunning, nil
	}
}

// fakeLauncher hands out fakeHandles; behavior is switched per test.
type fakeLauncher struct {
	mu         sync.Mutex
	next       int
	spawned    []*fakeHandle
	failWith   error
	dieAtOnce  bool
	ignoreTerm bool
}

func (l *fakeLauncher) Spawn(spec process.Spec) (process.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return nil, &process.SpawnError{Path: spec.Path, Err: l.failWith}
	}
	l.next++
	h := &fakeHandle{pid: 1000 + l.next, ignoreTerm: l.ignoreTerm, done: make(chan struct{})}
	if l.dieAtOnce {
		h.exit()
	}
	l.spawned = append(l.spawned, h)
	return h, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.spawned)
}

func (l *fakeLauncher) last() *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.spawned) == 0 {
		return nil
	}
	return l.spawned[len(l.spawned)-1]
}

type transition struct {
	Name     string
	From, To State
}

// recorder is a Notifier that keeps everything it is told.
type recorder struct {
	mu     sync.Mutex
	events []transition
	errs   []error
}

func (r *recorder) StatusChanged(name string, from, to State) {
	r.mu.Lock()
	r.events = append(r.events, transition{name, from, to})
	r.mu.Unlock()
}

func (r *recorder) ErrorOccurred(_ string, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) transitions() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.events...)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) states() []State {
	var out []State
	for _, t := range r.transitions() {
		out = append(out, t.To)
	}
	return out
}
