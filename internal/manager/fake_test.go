package manager

import (
	"errors"
	"sync"
	"time"

	"github.com/loykin/svcmgr/internal/process"
)

type fakeHandle struct {
	pid  int
	done chan struct{}
	once sync.Once
}

func (h *fakeHandle) exit()                      { h.once.Do(func() { close(h.done) }) }
func (h *fakeHandle) PID() int                   { return h.pid }
func (h *fakeHandle) Identity() process.Identity { return process.Identity{PID: h.pid, StartUnix: 1} }
func (h *fakeHandle) ExitErr() error             { return errors.New("exit status 1") }
func (h *fakeHandle) Terminate() error           { h.exit(); return nil }
func (h *fakeHandle) Kill() error                { h.exit(); return nil }

func (h *fakeHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
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

// launcher records the executable of every spawn in order.
type launcher struct {
	mu      sync.Mutex
	pid     int
	order   []string
	handles map[string]*fakeHandle
}

func newLauncher() *launcher { return &launcher{handles: make(map[string]*fakeHandle)} }

func (l *launcher) Spawn(spec process.Spec) (process.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pid++
	h := &fakeHandle{pid: 5000 + l.pid, done: make(chan struct{})}
	l.order = append(l.order, spec.Path)
	l.handles[spec.Path] = h
	return h, nil
}

func (l *launcher) spawned() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

func (l *launcher) handle(path string) *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handles[path]
}
