//go:build !linux && !windows

package meiliguard

// NewDefaultStrategy returns the direct strategy; this platform offers
// neither a parent-death signal nor job objects.
func NewDefaultStrategy(_ Paths, opts ...StrategyOption) SupervisionCapability {
	return NewDirectStrategy(opts...)
}
