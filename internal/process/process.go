package process

import (
	"io"
	"os/exec"
	"sync"
	"time"
)

// Spec is everything needed to create one child process.
type Spec struct {
	Path   string
	Args   []string
	Env    []string // full environment; nil inherits the supervisor's
	Dir    string
	Stdout io.WriteCloser // closed by the handle once the child is reaped
	Stderr io.WriteCloser
}

// ExitResult is the outcome of a bounded wait.
type ExitResult int

const (
	StillRunning ExitResult = iota
	Exited
)

func (r ExitResult) String() string {
	if r == Exited {
		return "exited"
	}
	return "still-running"
}

// Launcher creates child processes.
type Launcher interface {
	Spawn(spec Spec) (Handle, error)
}

// Handle controls one spawned child.
type Handle interface {
	PID() int
	Identity() Identity
	// Alive reports whether the child is still running and has not been reaped.
	Alive() bool
	// Terminate asks the child's process group to exit (SIGTERM).
	Terminate() error
	// Kill forcibly terminates the child's process group (SIGKILL).
	Kill() error
	// Wait blocks until the child exits or timeout elapses. A negative timeout waits forever.
	Wait(timeout time.Duration) (ExitResult, error)
	// ExitErr is the error returned by the OS wait, valid after Exited.
	ExitErr() error
}

// OSLauncher spawns real OS processes in their own process group.
type OSLauncher struct {
	// WaitDelay bounds how long reaping waits for stdio copying after exit.
	WaitDelay time.Duration
}

func (l OSLauncher) Spawn(spec Spec) (Handle, error) {
	if spec.Path == "" {
		return nil, &SpawnError{Path: spec.Path, Err: ErrEmptyPath}
	}
	// #nosec G204
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	if spec.Stdout != nil {
		cmd.Stdout = spec.Stdout
	}
	if spec.Stderr != nil {
		cmd.Stderr = spec.Stderr
	}
	cmd.WaitDelay = l.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 2 * time.Second
	}
	configureSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		closeQuietly(spec.Stdout)
		closeQuietly(spec.Stderr)
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}
	h := &osHandle{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
		out:  spec.Stdout,
		err:  spec.Stderr,
	}
	h.start = StartTime(h.pid)
	go h.reap()
	return h, nil
}

type osHandle struct {
	cmd   *exec.Cmd
	pid   int
	start int64
	done  chan struct{} // closed once cmd.Wait returns

	mu      sync.Mutex
	exitErr error
	out     io.WriteCloser
	err     io.WriteCloser
}

// reap is the single waiter for the child; nothing else may call cmd.Wait.
func (h *osHandle) reap() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.exitErr = err
	out, errW := h.out, h.err
	h.out, h.err = nil, nil
	h.mu.Unlock()
	closeQuietly(out)
	closeQuietly(errW)
	close(h.done)
}

func (h *osHandle) PID() int { return h.pid }

func (h *osHandle) Identity() Identity { return Identity{PID: h.pid, StartUnix: h.start} }

func (h *osHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
	}
	return h.Identity().Alive()
}

func (h *osHandle) Terminate() error { return h.signal(false) }

func (h *osHandle) Kill() error { return h.signal(true) }

func (h *osHandle) signal(force bool) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	err := signalGroup(h.pid, force)
	if err != nil && !h.Alive() {
		// raced with exit
		return nil
	}
	return err
}

func (h *osHandle) Wait(timeout time.Duration) (ExitResult, error) {
	if timeout < 0 {
		<-h.done
		return Exited, nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-h.done:
		return Exited, nil
	case <-t.C:
		return StillRunning, nil
	}
}

func (h *osHandle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
