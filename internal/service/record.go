package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/svcmgr/internal/env"
	"github.com/loykin/svcmgr/internal/process"
)

// Notifier receives every accepted state transition and every error a record
// reports. Calls are synchronous and made while the record's operation lock
// is held, so implementations must not call back into the same record.
type Notifier interface {
	StatusChanged(name string, from, to State)
	ErrorOccurred(name string, err error)
}

// Usage is one resource sample of a running process.
type Usage struct {
	MemoryBytes uint64
	CPUPercent  float64
}

// Sampler reads resource usage for a pid. It is called from the monitor loop
// and must return promptly.
type Sampler interface {
	Sample(pid int) (Usage, bool)
}

// DependencyChecker reports whether the named service is currently Running.
type DependencyChecker func(name string) bool

// OutputFunc returns the stdout/stderr destinations for one spawn of a
// service. Either may be nil to discard that stream.
type OutputFunc func(name string) (stdout, stderr io.WriteCloser)

// Options are the collaborators shared by every record of a registry.
type Options struct {
	Launcher     process.Launcher
	Sampler      Sampler
	Notifier     Notifier
	Dependencies DependencyChecker
	Env          *env.Env
	Output       OutputFunc
	Logger       *slog.Logger

	PollInterval time.Duration // monitor poll period (default 1s)
	StartGrace   time.Duration // post-spawn liveness check (default 100ms)
	KillTimeout  time.Duration // ceiling on waiting after SIGKILL (default 10s)
}

const (
	DefaultPollInterval = time.Second
	DefaultStartGrace   = 100 * time.Millisecond
	DefaultKillTimeout  = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Launcher == nil {
		o.Launcher = process.OSLauncher{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.StartGrace <= 0 {
		o.StartGrace = DefaultStartGrace
	}
	if o.KillTimeout <= 0 {
		o.KillTimeout = DefaultKillTimeout
	}
	return o
}

// Record owns one service: its config, its status and, while Running, its
// process handle and monitor goroutine.
//
// Every state-changing operation (Start, Stop, the monitor's exit handling)
// runs under ops, a one-slot semaphore, so transitions of one service are
// totally ordered. mu guards the fields below it and is only held briefly.
type Record struct {
	opts Options
	log  *slog.Logger
	ops  chan struct{}

	mu     sync.RWMutex
	cfg    Config
	status Status
	handle process.Handle
	mon    *monitor
	closed bool
}

// NewRecord validates cfg and returns a Stopped record.
func NewRecord(cfg Config, opts Options) (*Record, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return &Record{
		opts:   opts,
		log:    opts.Logger.With("service", cfg.Name),
		ops:    make(chan struct{}, 1),
		cfg:    cfg.Clone(),
		status: Status{State: Stopped, PID: NoPID},
	}, nil
}

func (r *Record) lock()   { r.ops <- struct{}{} }
func (r *Record) unlock() { <-r.ops }

// lockCtx acquires the operation lock unless ctx ends first.
func (r *Record) lockCtx(ctx context.Context) bool {
	select {
	case r.ops <- struct{}{}:
		if ctx.Err() != nil {
			r.unlock()
			return false
		}
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Record) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Name
}

// Config returns a copy of the current configuration.
func (r *Record) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Clone()
}

// State returns the current state without copying the whole status.
func (r *Record) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status.State
}

// Status returns a snapshot of the service's status.
func (r *Record) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.status
	s.Name = r.cfg.Name
	s.StateName = s.State.String()
	s.AutoStart = r.cfg.AutoStart
	if r.handle != nil {
		s.StartUnix = r.handle.Identity().StartUnix
	}
	return s
}

// UpdateConfig replaces the configuration. The running process, if any, is
// unaffected; the new config applies from the next Start.
func (r *Record) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.Name != r.cfg.Name {
		return newError(KindConfigInvalid, r.cfg.Name, fmt.Errorf("cannot rename to %q", cfg.Name))
	}
	r.cfg = cfg.Clone()
	return nil
}

// SetAutoStart toggles the auto-start flag.
func (r *Record) SetAutoStart(v bool) {
	r.mu.Lock()
	r.cfg.AutoStart = v
	r.mu.Unlock()
}

// ResetRestarts zeroes the restart counter.
func (r *Record) ResetRestarts() {
	r.mu.Lock()
	r.status.RestartCount = 0
	r.mu.Unlock()
}

// Start launches the service. It is a no-op when the service is already
// Starting or Running.
func (r *Record) Start() error {
	r.lock()
	defer r.unlock()
	if r.isClosed() {
		return NotFound(r.Name())
	}
	return r.startLocked(true)
}

// Stop terminates the service and joins its monitor. On return the record is
// Stopped and no monitor is running for it.
func (r *Record) Stop() error {
	// Cancel first so a monitor blocked on the lock or sleeping out a restart
	// delay gives up instead of competing with this stop.
	r.cancelMonitor()
	r.lock()
	defer r.unlock()
	return r.stopLocked()
}

// Restart stops the service, waits the configured restart delay and starts it again.
func (r *Record) Restart() error {
	if err := r.Stop(); err != nil {
		return err
	}
	if d := r.Config().RestartDelay; d > 0 {
		time.Sleep(d)
	}
	return r.Start()
}

// Adopt takes over h, a live process left by a previous run, as if this
// record had started it: the record becomes Running and a monitor watches
// the process. restartCount carries the previous run's counter forward.
func (r *Record) Adopt(h process.Handle, restartCount int) error {
	r.lock()
	defer r.unlock()
	if r.isClosed() {
		return NotFound(r.Name())
	}
	if st := r.State(); st != Stopped && st != Failed {
		return fmt.Errorf("adopt %s: service is %s", r.Name(), st)
	}
	if !h.Alive() {
		return fmt.Errorf("adopt %s: %w", r.Name(), process.ErrNotAlive)
	}

	now := time.Now()
	started := now
	if su := h.Identity().StartUnix; su > 0 {
		started = time.Unix(su, 0)
	}
	r.mu.Lock()
	r.handle = h
	r.status.PID = h.PID()
	r.status.StartedAt = started
	r.status.LastActivity = now
	r.status.LastError = ""
	if restartCount > r.status.RestartCount {
		r.status.RestartCount = restartCount
	}
	r.mu.Unlock()
	r.log.Info("adopted process", "pid", h.PID())

	r.transition(Running, nil)
	r.startMonitor()
	return nil
}

// Close stops the service and makes further Start calls fail with NotFound.
func (r *Record) Close() error {
	r.cancelMonitor()
	r.lock()
	defer r.unlock()
	err := r.stopLocked()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return err
}

func (r *Record) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// startLocked runs the start contract. The caller holds ops. withMonitor is
// false when the monitor itself is restarting and will keep watching.
func (r *Record) startLocked(withMonitor bool) error {
	r.mu.RLock()
	st := r.status.State
	cfg := r.cfg.Clone()
	r.mu.RUnlock()

	if st == Starting || st == Running {
		return nil
	}
	if dep, ok := r.unreadyDependency(cfg); !ok {
		err := newError(KindDependencyUnready, cfg.Name, fmt.Errorf("dependency %q is not running", dep))
		r.mu.Lock()
		r.status.LastError = err.Error()
		r.mu.Unlock()
		r.reportError(err)
		return err
	}

	r.transition(Starting, func(s *Status) { s.LastError = "" })

	h, err := r.opts.Launcher.Spawn(r.processSpec(cfg))
	if err != nil {
		e := newError(KindSpawnFailed, cfg.Name, err)
		r.transition(Failed, func(s *Status) { s.LastError = e.Error() })
		r.reportError(e)
		return e
	}

	now := time.Now()
	r.mu.Lock()
	r.handle = h
	r.status.PID = h.PID()
	r.status.StartedAt = now
	r.status.LastActivity = now
	r.status.RestartCount++
	r.mu.Unlock()
	r.log.Debug("spawned", "pid", h.PID(), "restart_count", r.Status().RestartCount)

	if res, _ := h.Wait(r.opts.StartGrace); res == process.Exited {
		e := newError(KindImmediateExit, cfg.Name, exitCause(h))
		r.transition(Failed, func(s *Status) { s.LastError = e.Error() })
		r.reportError(e)
		return e
	}

	r.transition(Running, nil)
	if withMonitor {
		r.startMonitor()
	}
	return nil
}

// stopLocked runs the stop contract. The caller holds ops.
func (r *Record) stopLocked() error {
	r.joinMonitor()

	r.mu.RLock()
	st := r.status.State
	h := r.handle
	cfg := r.cfg
	r.mu.RUnlock()

	if st == Stopped {
		return nil
	}
	if h == nil {
		r.transition(Stopped, nil)
		return nil
	}

	r.transition(Stopping, nil)

	var sigErr error
	if err := h.Terminate(); err != nil {
		sigErr = fmt.Errorf("graceful signal: %w", err)
	}
	if res, _ := h.Wait(cfg.grace()); res == process.StillRunning {
		r.log.Warn("grace period elapsed, killing", "grace", cfg.grace())
		if err := h.Kill(); err != nil {
			sigErr = errors.Join(sigErr, fmt.Errorf("force kill: %w", err))
		}
		if res, _ := h.Wait(r.opts.KillTimeout); res == process.StillRunning {
			sigErr = errors.Join(sigErr, fmt.Errorf("process %d still running %s after kill", h.PID(), r.opts.KillTimeout))
		}
	}

	if sigErr != nil {
		e := newError(KindSignalFailed, cfg.Name, sigErr)
		r.transition(Stopped, func(s *Status) { s.LastError = e.Error() })
		r.reportError(e)
		return e
	}
	r.transition(Stopped, nil)
	return nil
}

// transition moves to state `to`, applying mutate under mu, and notifies when
// the state actually changed. Entering Stopped or Failed drops the process.
func (r *Record) transition(to State, mutate func(*Status)) {
	r.mu.Lock()
	from := r.status.State
	r.status.State = to
	if to == Stopped || to == Failed {
		r.status.PID = NoPID
		r.handle = nil
	}
	if mutate != nil {
		mutate(&r.status)
	}
	name := r.cfg.Name
	r.mu.Unlock()

	if from == to {
		return
	}
	r.log.Info("state change", "from", from.String(), "to", to.String())
	if n := r.opts.Notifier; n != nil {
		n.StatusChanged(name, from, to)
	}
}

func (r *Record) reportError(err error) {
	r.log.Warn("service error", "error", err)
	if n := r.opts.Notifier; n != nil {
		n.ErrorOccurred(r.Name(), err)
	}
}

// unreadyDependency returns the first dependency that is not Running.
func (r *Record) unreadyDependency(cfg Config) (string, bool) {
	if len(cfg.Dependencies) == 0 {
		return "", true
	}
	check := r.opts.Dependencies
	for _, d := range cfg.Dependencies {
		if check == nil || !check(d) {
			return d, false
		}
	}
	return "", true
}

func (r *Record) processSpec(cfg Config) process.Spec {
	spec := process.Spec{
		Path: cfg.ExecPath,
		Args: cfg.Args,
		Dir:  cfg.WorkDir,
	}
	if r.opts.Env != nil {
		spec.Env = r.opts.Env.Merge(cfg.Env)
	} else if len(cfg.Env) > 0 {
		spec.Env = env.New().Merge(cfg.Env)
	}
	if r.opts.Output != nil {
		spec.Stdout, spec.Stderr = r.opts.Output(cfg.Name)
	}
	return spec
}

func exitCause(h process.Handle) error {
	if err := h.ExitErr(); err != nil {
		return err
	}
	return errors.New("exit status 0")
}
