//go:build !windows

package process

import "syscall"

// signalGroup signals the whole process group led by pid.
func signalGroup(pid int, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	return syscall.Kill(-pid, sig)
}

// signalPID signals pid alone.
func signalPID(pid int, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	return syscall.Kill(pid, sig)
}

func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
