//go:build windows

package process

import "syscall"

// lookupProc queries the creation time of pid. Windows has no zombie state;
// an exited process whose handle is still open reports an exit time instead.
func lookupProc(pid int) (procInfo, bool) {
	if pid <= 0 {
		return procInfo{}, false
	}
	h, err := openProcess(processQueryInformation, uint32(pid))
	if err != nil {
		return procInfo{}, false
	}
	defer closeHandle(h)

	var creation, exit, kernel, user syscall.Filetime
	if err := syscall.GetProcessTimes(h, &creation, &exit, &kernel, &user); err != nil {
		return procInfo{}, true
	}
	var code uint32
	if err := syscall.GetExitCodeProcess(h, &code); err == nil && code != stillActive {
		return procInfo{startUnix: creation.Nanoseconds() / 1e9, zombie: true}, true
	}
	return procInfo{startUnix: creation.Nanoseconds() / 1e9}, true
}

const stillActive = 259
