package meiliguard

import (
	"errors"
	"fmt"
)

// Common errors returned by meiliguard operations
var (
	// ErrServiceNotFound indicates the service executable does not exist or is not a regular file
	ErrServiceNotFound = errors.New("meiliguard: service executable not found")

	// ErrNotExecutable indicates the service executable lacks execute permission
	ErrNotExecutable = errors.New("meiliguard: file is not executable")

	// ErrPortUnavailable indicates the instance port could neither be bound nor reached
	ErrPortUnavailable = errors.New("meiliguard: instance port unavailable")

	// ErrParentGone indicates the guard's parent exited before the death signal was registered
	ErrParentGone = errors.New("meiliguard: parent exited before registration")

	// ErrUnsupported indicates the supervision mechanism is unavailable on this platform
	ErrUnsupported = errors.New("meiliguard: unsupported on this platform")

	// ErrNotRunning indicates the managed process is not in the running state
	ErrNotRunning = errors.New("meiliguard: process not running")

	// ErrTimeout indicates an operation exceeded its timeout
	ErrTimeout = errors.New("meiliguard: timeout")

	// ErrDecode indicates the status file could not be decoded
	ErrDecode = errors.New("meiliguard: status decode")
)

// OpError represents an error from a meiliguard operation
type OpError struct {
	// Op is the operation that failed
	Op Operation
	// Path is the file path or address involved in the operation
	Path string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *OpError) Error() string {
	return fmt.Sprintf("meiliguard %s %q: %v", e.Op.String(), e.Path, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *OpError) Unwrap() error {
	return e.Err
}

// MultiError aggregates errors collected while tearing several things down
type MultiError struct {
	// Errors contains all accumulated errors
	Errors []error
}

// Error returns a summary of the accumulated errors
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred", len(m.Errors))
}

// Add appends an error to the collection if it's not nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Unwrap exposes the collected errors to errors.Is and errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Err returns nil if no errors occurred, otherwise returns the MultiError itself
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}
