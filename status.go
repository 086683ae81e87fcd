package meiliguard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// TAI64Base is the TAI64 label of the Unix epoch (2^62 + 10 leap seconds)
const TAI64Base = uint64(1<<62) + 10

// GuardState is the supervisor's view of the service
type GuardState int

const (
	// GuardUnknown indicates no status has been published
	GuardUnknown GuardState = iota
	// GuardStarting indicates the supervisor is up and the service not yet spawned
	GuardStarting
	// GuardRunning indicates the service is running
	GuardRunning
	// GuardStopping indicates the supervisor is killing the service
	GuardStopping
	// GuardDown indicates the supervisor killed the service on request
	GuardDown
	// GuardExited indicates the service exited on its own
	GuardExited
)

// GuardState string constants
const (
	guardUnknownStr  = "unknown"
	guardStartingStr = "starting"
	guardRunningStr  = "running"
	guardStoppingStr = "stopping"
	guardDownStr     = "down"
	guardExitedStr   = "exited"
)

// String returns the string representation of the state
func (s GuardState) String() string {
	switch s {
	case GuardStarting:
		return guardStartingStr
	case GuardRunning:
		return guardRunningStr
	case GuardStopping:
		return guardStoppingStr
	case GuardDown:
		return guardDownStr
	case GuardExited:
		return guardExitedStr
	default:
		return guardUnknownStr
	}
}

// Terminal reports whether the supervisor will publish nothing further
func (s GuardState) Terminal() bool {
	return s == GuardDown || s == GuardExited
}

// GuardStatus is the decoded status record of a supervisor
type GuardStatus struct {
	// State is the inferred state
	State GuardState
	// PID is the service process ID (0 if not running)
	PID int
	// Since is when the supervisor entered the state
	Since time.Time
	// ExitCode is the service exit code once GuardExited
	ExitCode int
	// Raw contains the original 20-byte status record
	Raw [StatusFileSize]byte
}

// Status file layout offsets
const (
	offsetTAI64Sec  = 0  // bytes 0-7: TAI64N seconds
	offsetTAI64Nano = 8  // bytes 8-11: TAI64N nanoseconds
	offsetPID       = 12 // bytes 12-15: service PID
	offsetWant      = 16 // byte 16: want flag ('u' or 'd')
	offsetRun       = 17 // byte 17: run phase
	offsetTerm      = 18 // byte 18: term flag (kill in progress)
	offsetExit      = 19 // byte 19: service exit code
)

// Run phases stored at offsetRun
const (
	runPending  byte = 0
	runActive   byte = 1
	runFinished byte = 2
)

// encodeStatus builds the 20-byte record for state at time now
func encodeStatus(state GuardState, pid, exitCode int, now time.Time) [StatusFileSize]byte {
	var b [StatusFileSize]byte
	binary.BigEndian.PutUint64(b[offsetTAI64Sec:offsetTAI64Nano], TAI64Base+uint64(now.Unix()))
	binary.BigEndian.PutUint32(b[offsetTAI64Nano:offsetPID], uint32(now.Nanosecond()))
	binary.BigEndian.PutUint32(b[offsetPID:offsetWant], uint32(pid))

	b[offsetWant] = 'u'
	switch state {
	case GuardStarting:
		b[offsetRun] = runPending
	case GuardRunning:
		b[offsetRun] = runActive
	case GuardStopping:
		b[offsetWant] = 'd'
		b[offsetRun] = runActive
		b[offsetTerm] = 1
	case GuardDown:
		b[offsetWant] = 'd'
		b[offsetRun] = runFinished
	case GuardExited:
		b[offsetRun] = runFinished
		b[offsetExit] = byte(exitCode)
	}
	return b
}

// decodeStatus decodes a 20-byte supervisor status record.
// The format is:
//
//	bytes 0-7:   TAI64N seconds (big-endian uint64)
//	bytes 8-11:  TAI64N nanoseconds (big-endian uint32)
//	bytes 12-15: service PID (big-endian uint32)
//	byte 16:     want flag ('u' for up, 'd' for down)
//	byte 17:     run phase (0 pending, 1 active, 2 finished)
//	byte 18:     term flag (kill in progress)
//	byte 19:     service exit code
func decodeStatus(data []byte) (GuardStatus, error) {
	if len(data) != StatusFileSize {
		return GuardStatus{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrDecode, StatusFileSize, len(data))
	}

	var st GuardStatus
	copy(st.Raw[:], data)

	st.PID = int(binary.BigEndian.Uint32(data[offsetPID:offsetWant]))

	sec := binary.BigEndian.Uint64(data[offsetTAI64Sec:offsetTAI64Nano])
	nano := binary.BigEndian.Uint32(data[offsetTAI64Nano:offsetPID])
	if sec > TAI64Base {
		st.Since = time.Unix(int64(sec-TAI64Base), int64(nano))
	}

	want := data[offsetWant]
	term := data[offsetTerm] != 0

	switch data[offsetRun] {
	case runPending:
		if want == 'u' {
			st.State = GuardStarting
		}
	case runActive:
		if term || want == 'd' {
			st.State = GuardStopping
		} else {
			st.State = GuardRunning
		}
	case runFinished:
		st.PID = 0
		if want == 'd' {
			st.State = GuardDown
		} else {
			st.State = GuardExited
			st.ExitCode = int(data[offsetExit])
		}
	default:
		return st, fmt.Errorf("%w: run phase %d", ErrDecode, data[offsetRun])
	}
	return st, nil
}

// ReadStatus reads the status record published in dir. A missing record
// yields GuardUnknown and an error matching fs.ErrNotExist.
func ReadStatus(dir string) (GuardStatus, error) {
	path := filepath.Join(dir, StatusFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return GuardStatus{}, &OpError{Op: OpStatus, Path: path, Err: err}
	}
	st, err := decodeStatus(data)
	if err != nil {
		return GuardStatus{}, &OpError{Op: OpStatus, Path: path, Err: err}
	}
	return st, nil
}

// removeStatus deletes a stale status record; a missing record is not an error
func removeStatus(dir string) error {
	err := os.Remove(filepath.Join(dir, StatusFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
