package meiliguard

import (
	"io/fs"
	"time"
)

// Loopback ports used by the application
const (
	// DefaultInstancePort is the loopback port that arbitrates the primary instance
	DefaultInstancePort = 11210

	// DefaultRedirectPort receives the OAuth authorization redirect
	DefaultRedirectPort = 11211

	// DefaultServicePort is the HTTP port the search service binds
	DefaultServicePort = 11212

	// DefaultServiceAddr is the --http-addr value handed to the search service
	DefaultServiceAddr = "localhost:11212"

	// LoopbackHost is the only address the instance protocol ever uses
	LoopbackHost = "127.0.0.1"
)

// File and directory names inside the service directory
const (
	// ServiceName is the base name of the search service executable
	ServiceName = "meilisearch"

	// GuardName is the base name of the supervisor executable
	GuardName = "meiliguard"

	// ServiceLogFile receives the service's stdout and stderr
	ServiceLogFile = "meilisearch.log"

	// AppLogFile is the owner's own log, written next to its executable
	AppLogFile = "kumo.log"

	// DatabaseDir is the service database directory
	DatabaseDir = "data.ms"

	// DumpDir is the service dump directory
	DumpDir = "dumps"

	// SuperviseDir holds the guard's status record
	SuperviseDir = "supervise"

	// StatusFile is the binary status file name
	StatusFile = "status"

	// StatusFileSize is the exact size of the binary status record in bytes
	StatusFileSize = 20

	// ArgSeparator splits guard flags from the arguments forwarded to the service
	ArgSeparator = "--"
)

// Timing defaults
const (
	// DefaultWatchDebounce is the default debounce time for status file watching
	DefaultWatchDebounce = 25 * time.Millisecond

	// DefaultDialTimeout bounds a connection attempt to the instance port
	DefaultDialTimeout = 500 * time.Millisecond

	// DefaultWriteTimeout is the default timeout for writing the wake byte
	DefaultWriteTimeout = 1 * time.Second

	// DefaultReadTimeout bounds the read of a wake byte from an accepted connection
	DefaultReadTimeout = 1 * time.Second

	// DefaultBackoffMin is the minimum backoff duration for retries
	DefaultBackoffMin = 10 * time.Millisecond

	// DefaultBackoffMax is the maximum backoff duration for retries
	DefaultBackoffMax = 1 * time.Second

	// DefaultMaxAttempts is the default maximum number of retry attempts
	DefaultMaxAttempts = 10

	// DefaultTickInterval is the period of the owner's control loop
	DefaultTickInterval = 100 * time.Millisecond

	// DefaultStartTimeout bounds the wait for the guard to report the service running
	DefaultStartTimeout = 10 * time.Second

	// DefaultTeardownTimeout bounds the wait for the service to exit after a kill request
	DefaultTeardownTimeout = 5 * time.Second

	// DefaultHealthAttempts is the number of health probes made after launch
	DefaultHealthAttempts = 20
)

// File modes
const (
	// DirMode is the default mode for created directories
	DirMode fs.FileMode = 0o755

	// FileMode is the default mode for created files
	FileMode fs.FileMode = 0o644
)

// Operation identifies the step that produced an OpError
type Operation int

const (
	// OpUnknown represents an unknown operation
	OpUnknown Operation = iota
	// OpResolve locates an executable or directory
	OpResolve
	// OpClaim decides the instance role
	OpClaim
	// OpNotify sends the wake byte to the primary instance
	OpNotify
	// OpAccept reads a wake byte from a secondary instance
	OpAccept
	// OpSpawn starts a child process
	OpSpawn
	// OpJob manipulates a kernel job object
	OpJob
	// OpGuard registers the parent-death signal in the guard
	OpGuard
	// OpStatus reads or writes the guard status record
	OpStatus
	// OpTeardown terminates a managed process
	OpTeardown
	// OpHealth probes the service HTTP API
	OpHealth
)

// Operation string constants
const (
	opUnknownStr  = "unknown"
	opResolveStr  = "resolve"
	opClaimStr    = "claim"
	opNotifyStr   = "notify"
	opAcceptStr   = "accept"
	opSpawnStr    = "spawn"
	opJobStr      = "job"
	opGuardStr    = "guard"
	opStatusStr   = "status"
	opTeardownStr = "teardown"
	opHealthStr   = "health"
)

// String returns the string representation of an Operation
func (op Operation) String() string {
	switch op {
	case OpResolve:
		return opResolveStr
	case OpClaim:
		return opClaimStr
	case OpNotify:
		return opNotifyStr
	case OpAccept:
		return opAcceptStr
	case OpSpawn:
		return opSpawnStr
	case OpJob:
		return opJobStr
	case OpGuard:
		return opGuardStr
	case OpStatus:
		return opStatusStr
	case OpTeardown:
		return opTeardownStr
	case OpHealth:
		return opHealthStr
	default:
		return opUnknownStr
	}
}
