//go:build windows

package meiliguard

import (
	"context"
	"log/slog"

	"github.com/axondata/go-meiliguard/internal/winjob"
)

// JobStrategy places the service in a kernel job object with kill-on-close
// set. The kernel terminates the service when the owner's handle table is
// torn down, including when the owner itself is force-terminated.
type JobStrategy struct {
	cfg *strategyConfig
}

// NewJobStrategy creates a JobStrategy
func NewJobStrategy(opts ...StrategyOption) *JobStrategy {
	return &JobStrategy{cfg: newStrategyConfig(opts)}
}

// Name identifies the strategy
func (s *JobStrategy) Name() string {
	return "job"
}

// Spawn starts the service and binds it to a new job. Any job failure kills
// the service; it never runs unsupervised.
func (s *JobStrategy) Spawn(_ context.Context, spec ChildSpec) (*ManagedProcess, error) {
	cmd := command(spec.Path, spec.Args, spec)
	if err := cmd.Start(); err != nil {
		return nil, &OpError{Op: OpSpawn, Path: spec.Path, Err: err}
	}
	p := newManagedProcess(s, spec, cmd)

	fail := func(err error) (*ManagedProcess, error) {
		_ = p.killChild()
		p.waitExit(s.cfg.teardownTimeout)
		return nil, &OpError{Op: OpJob, Path: spec.Path, Err: err}
	}

	job, err := winjob.New()
	if err != nil {
		return fail(err)
	}
	if err := job.Assign(p.PID); err != nil {
		_ = job.Close()
		return fail(err)
	}

	p.release = job.Close
	p.transition(s.cfg.metrics, StateRunning)
	s.cfg.logger.Info("service started", slog.String("strategy", s.Name()), slog.Int("pid", p.PID))
	return p, nil
}

// ConfirmAlive reports whether the service has not been reaped
func (s *JobStrategy) ConfirmAlive(p *ManagedProcess) bool {
	return p.State() == StateRunning && p.childAlive()
}

// Teardown closes the job, letting the kernel kill the service, and falls
// back to killing the process directly if it outlives the timeout.
func (s *JobStrategy) Teardown(p *ManagedProcess) error {
	return p.teardown(s.cfg, func() error {
		release := p.release
		p.release = nil
		if release != nil {
			if err := release(); err != nil {
				s.cfg.logger.Warn("closing job failed", slog.Any("err", err))
			}
		}
		if p.waitExit(s.cfg.teardownTimeout) {
			return nil
		}
		if err := p.killChild(); err != nil {
			return err
		}
		if !p.waitExit(s.cfg.teardownTimeout) {
			return ErrTimeout
		}
		return nil
	})
}
