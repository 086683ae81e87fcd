//go:build linux

package meiliguard

// NewDefaultStrategy returns the supervisor process strategy using the
// guard executable and status directory under paths.
func NewDefaultStrategy(paths Paths, opts ...StrategyOption) SupervisionCapability {
	return NewGuardStrategy(paths.GuardExe(), paths.StatusDir(), opts...)
}
