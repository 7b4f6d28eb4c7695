package process

// Identity names an OS process by pid plus its start time, so a recycled pid
// is not mistaken for the process that originally held it.
type Identity struct {
	PID       int   `json:"pid" yaml:"pid"`
	StartUnix int64 `json:"start_unix" yaml:"start_unix"`
}

// Alive reports whether the identified process still exists. A pid that is
// alive but carries a different start time is treated as a different process.
// A zero StartUnix disables the start-time check.
func (id Identity) Alive() bool {
	if id.PID <= 0 {
		return false
	}
	if !processExists(id.PID) {
		return false
	}
	info, ok := lookupProc(id.PID)
	if !ok {
		return true
	}
	// An exited but unreaped child is not running anything.
	if info.zombie {
		return false
	}
	return id.StartUnix == 0 || info.startUnix == 0 || info.startUnix == id.StartUnix
}

// StartTime returns the start time of pid as Unix seconds, or 0 when unknown.
func StartTime(pid int) int64 {
	info, _ := lookupProc(pid)
	return info.startUnix
}

// procInfo is what the process table reports for one pid.
type procInfo struct {
	startUnix int64
	zombie    bool
}
