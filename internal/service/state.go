package service

import "time"

type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Failed
	// Unknown is only ever returned for names that are not registered.
	Unknown
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseState is the inverse of String; unrecognized input yields Unknown.
func ParseState(s string) State {
	for st := Stopped; st < Unknown; st++ {
		if st.String() == s {
			return st
		}
	}
	return Unknown
}

// NoPID is the pid value reported when no process is associated.
const NoPID = 0

// Status is a point-in-time copy of a service's mutable state.
type Status struct {
	Name         string    `json:"name"`
	State        State     `json:"-"`
	StateName    string    `json:"state"`
	PID          int       `json:"pid"`
	StartUnix    int64     `json:"start_unix,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	LastActivity time.Time `json:"last_activity,omitempty"`
	RestartCount int       `json:"restart_count"`
	LastError    string    `json:"last_error,omitempty"`
	MemoryBytes  uint64    `json:"memory_bytes"`
	CPUPercent   float64   `json:"cpu_percent"`
	AutoStart    bool      `json:"auto_start"`
}

// NotFoundStatus is the placeholder returned for unregistered names.
func NotFoundStatus(name string) Status {
	return Status{Name: name, State: Unknown, StateName: Unknown.String(), PID: NoPID, LastError: "service not found"}
}
