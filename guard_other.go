//go:build !linux

package meiliguard

import "context"

// RunGuard is only meaningful where a parent-death signal exists
func RunGuard(context.Context, GuardConfig) (int, error) {
	return 1, &OpError{Op: OpGuard, Err: ErrUnsupported}
}
