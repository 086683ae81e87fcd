package meiliguard

import (
	"context"
	"log/slog"
)

// DirectStrategy runs the service as a plain child. Teardown happens only
// through Guard.Close, so a crash of the owner that skips deferred calls
// leaves the service running.
type DirectStrategy struct {
	cfg *strategyConfig
}

// NewDirectStrategy creates a DirectStrategy
func NewDirectStrategy(opts ...StrategyOption) *DirectStrategy {
	return &DirectStrategy{cfg: newStrategyConfig(opts)}
}

// Name identifies the strategy
func (s *DirectStrategy) Name() string {
	return "direct"
}

// Spawn starts the service
func (s *DirectStrategy) Spawn(_ context.Context, spec ChildSpec) (*ManagedProcess, error) {
	cmd := command(spec.Path, spec.Args, spec)
	if err := cmd.Start(); err != nil {
		return nil, &OpError{Op: OpSpawn, Path: spec.Path, Err: err}
	}

	p := newManagedProcess(s, spec, cmd)
	p.transition(s.cfg.metrics, StateRunning)
	s.cfg.logger.Info("service started", slog.String("strategy", s.Name()), slog.Int("pid", p.PID))
	return p, nil
}

// ConfirmAlive reports whether the child has not been reaped
func (s *DirectStrategy) ConfirmAlive(p *ManagedProcess) bool {
	return p.State() == StateRunning && p.childAlive()
}

// Teardown kills the child and waits for it to be reaped
func (s *DirectStrategy) Teardown(p *ManagedProcess) error {
	return p.teardown(s.cfg, func() error {
		if err := p.killChild(); err != nil {
			return err
		}
		if !p.waitExit(s.cfg.teardownTimeout) {
			return ErrTimeout
		}
		return nil
	})
}
