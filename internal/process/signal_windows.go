//go:build windows

package process

import (
	"syscall"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const (
	processTerminate        = 0x0001
	processQueryInformation = 0x0400
)

// signalGroup terminates pid. Windows has no graceful group signal for
// console-less children, so both modes end in TerminateProcess.
func signalGroup(pid int, _ bool) error {
	if pid <= 0 {
		return nil
	}
	handle, err := openProcess(processTerminate, uint32(pid))
	if err != nil {
		// already gone
		return nil
	}
	defer closeHandle(handle)
	ret, _, err := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return err
	}
	return nil
}

func signalPID(pid int, force bool) error { return signalGroup(pid, force) }

func processExists(pid int) bool {
	handle, err := openProcess(processQueryInformation, uint32(pid))
	if err != nil {
		return false
	}
	closeHandle(handle)
	return true
}

func openProcess(access uint32, pid uint32) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), 0, uintptr(pid))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) {
	_, _, _ = procCloseHandle.Call(uintptr(handle))
}
