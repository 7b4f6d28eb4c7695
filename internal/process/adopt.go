package process

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotAlive is returned by Adopt when the identified process is gone.
var ErrNotAlive = errors.New("process not alive")

// ErrExitUnknown is the exit error of an adopted process. It was not spawned
// by this supervisor, so its exit status cannot be collected.
var ErrExitUnknown = errors.New("exit status unavailable for adopted process")

const adoptPollInterval = 50 * time.Millisecond

// Adopt returns a Handle for a live process that this supervisor did not
// spawn in the current run, such as a child that outlived a previous daemon.
// Liveness is polled through id, including the start-time fence.
func Adopt(id Identity) (Handle, error) {
	if !id.Alive() {
		return nil, fmt.Errorf("adopt pid %d: %w", id.PID, ErrNotAlive)
	}
	if id.StartUnix == 0 {
		id.StartUnix = StartTime(id.PID)
	}
	return &adoptedHandle{id: id}, nil
}

type adoptedHandle struct {
	id Identity
}

func (h *adoptedHandle) PID() int           { return h.id.PID }
func (h *adoptedHandle) Identity() Identity { return h.id }
func (h *adoptedHandle) Alive() bool        { return h.id.Alive() }
func (h *adoptedHandle) Terminate() error   { return h.signal(false) }
func (h *adoptedHandle) Kill() error        { return h.signal(true) }

func (h *adoptedHandle) ExitErr() error {
	if h.Alive() {
		return nil
	}
	return ErrExitUnknown
}

// signal targets the process group first, as spawned children lead their own
// group, and falls back to the single pid.
func (h *adoptedHandle) signal(force bool) error {
	if !h.Alive() {
		return nil
	}
	if err := signalGroup(h.id.PID, force); err == nil {
		return nil
	}
	err := signalPID(h.id.PID, force)
	if err != nil && !h.Alive() {
		return nil
	}
	return err
}

func (h *adoptedHandle) Wait(timeout time.Duration) (ExitResult, error) {
	var deadline <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	tick := time.NewTicker(adoptPollInterval)
	defer tick.Stop()
	for {
		if !h.Alive() {
			return Exited, nil
		}
		select {
		case <-deadline:
			if !h.Alive() {
				return Exited, nil
			}
			return StillRunning, nil
		case <-tick.C:
		}
	}
}
