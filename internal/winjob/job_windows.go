//go:build windows

// Package winjob manages kernel job objects that kill their members when
// the last handle to the job is closed.
package winjob

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Job is an unnamed job object with JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE set.
// The handle is not inheritable, so it is released by the kernel when the
// owning process exits on any path.
type Job struct {
	handle windows.Handle
	once   sync.Once
	err    error
}

// New creates the job and sets the kill-on-close limit
func New() (*Job, error) {
	h, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("CreateJobObject: %w", err)
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		h,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		_ = windows.CloseHandle(h)
		return nil, fmt.Errorf("SetInformationJobObject: %w", err)
	}

	return &Job{handle: h}, nil
}

// Assign adds the process with the given PID to the job
func (j *Job) Assign(pid int) error {
	ph, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("OpenProcess %d: %w", pid, err)
	}
	defer func() { _ = windows.CloseHandle(ph) }()

	if err := windows.AssignProcessToJobObject(j.handle, ph); err != nil {
		return fmt.Errorf("AssignProcessToJobObject %d: %w", pid, err)
	}
	return nil
}

// Close releases the handle, terminating every process in the job
func (j *Job) Close() error {
	j.once.Do(func() {
		j.err = windows.CloseHandle(j.handle)
	})
	return j.err
}
