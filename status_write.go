//go:build !windows

package meiliguard

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// WriteStatus atomically publishes a status record in dir
func WriteStatus(dir string, state GuardState, pid, exitCode int) error {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return &OpError{Op: OpStatus, Path: dir, Err: err}
	}

	path := filepath.Join(dir, StatusFile)
	rec := encodeStatus(state, pid, exitCode, time.Now())
	if err := renameio.WriteFile(path, rec[:], FileMode); err != nil {
		return &OpError{Op: OpStatus, Path: path, Err: err}
	}
	return nil
}
