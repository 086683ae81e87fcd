package meiliguard

import "log/slog"

// GuardConfig is the command line of a meiliguard supervisor process
type GuardConfig struct {
	// ServiceDir is the service working directory (--meili)
	ServiceDir string
	// ServicePath is the service executable (--service); defaults to ServiceDir/meilisearch
	ServicePath string
	// ParentPID is the expected owner PID (--parent-pid); zero skips the check
	ParentPID int
	// StatusDir receives the status record (--status-dir); empty disables publishing
	StatusDir string
	// Args are forwarded to the service verbatim
	Args []string
	// Logger receives supervisor logs
	Logger *slog.Logger
}
