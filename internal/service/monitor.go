package service

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/svcmgr/internal/process"
)

type monitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startMonitor launches the health loop unless one is already active.
// The caller holds ops.
func (r *Record) startMonitor() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mon != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &monitor{cancel: cancel, done: make(chan struct{})}
	r.mon = m
	go r.runMonitor(ctx, m)
}

func (r *Record) cancelMonitor() {
	r.mu.RLock()
	m := r.mon
	r.mu.RUnlock()
	if m != nil {
		m.cancel()
	}
}

// joinMonitor cancels the active monitor and waits for it to return.
// The caller holds ops; the monitor never blocks on ops once cancelled.
func (r *Record) joinMonitor() {
	r.mu.Lock()
	m := r.mon
	r.mon = nil
	r.mu.Unlock()
	if m == nil {
		return
	}
	m.cancel()
	<-m.done
}

// detach clears r.mon if it still refers to m. The caller holds ops.
func (r *Record) detach(m *monitor) {
	r.mu.Lock()
	if r.mon == m {
		r.mon = nil
	}
	r.mu.Unlock()
	m.cancel()
}

func (r *Record) runMonitor(ctx context.Context, m *monitor) {
	defer close(m.done)
	t := time.NewTicker(r.opts.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		r.mu.RLock()
		h := r.handle
		cfg := r.cfg
		r.mu.RUnlock()

		if h != nil && h.Alive() {
			if cfg.FailOnDependencyLoss {
				if dep, ok := r.unreadyDependency(cfg); !ok {
					if !r.handleDependencyLoss(ctx, m, dep) {
						return
					}
					continue
				}
			}
			r.refresh(h)
			continue
		}
		if !r.handleExit(ctx, m, nil) {
			return
		}
	}
}

// refresh updates the activity timestamp and usage sample for a live process.
// Sampling runs without any lock held.
func (r *Record) refresh(h process.Handle) {
	var u Usage
	var ok bool
	if r.opts.Sampler != nil {
		u, ok = r.opts.Sampler.Sample(h.PID())
	}
	r.mu.Lock()
	if r.handle == h {
		r.status.LastActivity = time.Now()
		if ok {
			r.status.MemoryBytes = u.MemoryBytes
			r.status.CPUPercent = u.CPUPercent
		}
	}
	r.mu.Unlock()
}

// handleDependencyLoss terminates a Running service whose dependency stopped
// running and then follows the exit path.
func (r *Record) handleDependencyLoss(ctx context.Context, m *monitor, dep string) bool {
	if !r.lockCtx(ctx) {
		return false
	}
	r.mu.RLock()
	h := r.handle
	grace := r.cfg.grace()
	r.mu.RUnlock()
	if h != nil {
		_ = h.Terminate()
		if res, _ := h.Wait(grace); res == process.StillRunning {
			_ = h.Kill()
			_, _ = h.Wait(r.opts.KillTimeout)
		}
	}
	r.unlock()
	cause := newError(KindDependencyUnready, r.Name(), fmt.Errorf("dependency %q lost", dep))
	return r.handleExit(ctx, m, cause)
}

// handleExit reacts to the death of the process while Running. It reports
// whether the monitor should keep running.
func (r *Record) handleExit(ctx context.Context, m *monitor, cause error) bool {
	if !r.lockCtx(ctx) {
		return false
	}
	r.mu.RLock()
	st := r.status.State
	h := r.handle
	cfg := r.cfg
	r.mu.RUnlock()

	// Someone else already acted (a Start after a previous failure installed a
	// fresh process).
	if st != Running || (h != nil && h.Alive()) {
		r.unlock()
		return st == Running
	}

	if cause == nil {
		cause = newError(KindUnexpectedExit, cfg.Name, exitDetail(h))
	}
	r.transition(Failed, func(s *Status) { s.LastError = cause.Error() })
	r.reportError(cause)

	if r.Status().RestartCount >= cfg.MaxRestartAttempts {
		r.log.Warn("restart attempts exhausted", "max", cfg.MaxRestartAttempts)
		r.detach(m)
		r.unlock()
		return false
	}
	r.unlock()

	if cfg.RestartDelay > 0 {
		t := time.NewTimer(cfg.RestartDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}

	if !r.lockCtx(ctx) {
		return false
	}
	defer r.unlock()
	switch r.State() {
	case Running:
		// started by someone else while we slept
		return true
	case Failed:
	default:
		r.detach(m)
		return false
	}
	r.log.Info("auto-restart", "attempt", r.Status().RestartCount+1, "max", cfg.MaxRestartAttempts)
	if err := r.startLocked(false); err != nil || r.State() != Running {
		r.detach(m)
		return false
	}
	return true
}

// exitDetail is the OS wait error of h, if any.
func exitDetail(h process.Handle) error {
	if h == nil {
		return nil
	}
	return h.ExitErr()
}
