//go:build !linux && !windows

package unix

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrNoParentDeathSignal is returned where the kernel offers no parent-death signal
var ErrNoParentDeathSignal = errors.New("parent death signal unsupported")

// SetParentDeathSignal is unavailable on this platform
func SetParentDeathSignal(syscall.Signal) error {
	return ErrNoParentDeathSignal
}

// Getppid returns the parent process ID
func Getppid() int {
	return unix.Getppid()
}

// Alive reports whether pid names a process that has not been reaped
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// Signal sends sig to pid; a process that no longer exists is not an error
func Signal(pid int, sig syscall.Signal) error {
	if err := unix.Kill(pid, sig); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}
