//go:build windows

package meiliguard

// NewDefaultStrategy returns the job object strategy
func NewDefaultStrategy(_ Paths, opts ...StrategyOption) SupervisionCapability {
	return NewJobStrategy(opts...)
}
