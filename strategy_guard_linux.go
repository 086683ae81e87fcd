//go:build linux

package meiliguard

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"

	"github.com/axondata/go-meiliguard/internal/unix"
)

// GuardStrategy runs the service under a meiliguard supervisor process.
// The supervisor registers a parent-death signal, so the kernel tells it
// when the owner exits on any path, and it kills the service in response.
//
// A SIGKILL delivered to the supervisor itself bypasses this and leaves the
// service running.
type GuardStrategy struct {
	// GuardPath is the supervisor executable
	GuardPath string
	// StatusDir is where the supervisor publishes its status record
	StatusDir string

	cfg *strategyConfig
}

// NewGuardStrategy creates a GuardStrategy
func NewGuardStrategy(guardPath, statusDir string, opts ...StrategyOption) *GuardStrategy {
	return &GuardStrategy{
		GuardPath: guardPath,
		StatusDir: statusDir,
		cfg:       newStrategyConfig(opts),
	}
}

// Name identifies the strategy
func (s *GuardStrategy) Name() string {
	return "guard"
}

// GuardArgs builds the supervisor command line for spec
func GuardArgs(spec ChildSpec, statusDir string, parentPID int) []string {
	args := []string{
		"--meili=" + spec.Dir,
		"--service=" + spec.Path,
		"--parent-pid=" + strconv.Itoa(parentPID),
		"--status-dir=" + statusDir,
		ArgSeparator,
	}
	return append(args, spec.Args...)
}

// Spawn starts the supervisor and waits until it reports the service running
func (s *GuardStrategy) Spawn(ctx context.Context, spec ChildSpec) (*ManagedProcess, error) {
	if err := VerifyExecutable(s.GuardPath); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.StatusDir, DirMode); err != nil {
		return nil, &OpError{Op: OpStatus, Path: s.StatusDir, Err: err}
	}
	if err := removeStatus(s.StatusDir); err != nil {
		return nil, &OpError{Op: OpStatus, Path: s.StatusDir, Err: err}
	}

	cmd := command(s.GuardPath, GuardArgs(spec, s.StatusDir, os.Getpid()), spec)
	release := make(chan struct{})
	if err := startPinned(cmd, release); err != nil {
		return nil, &OpError{Op: OpSpawn, Path: s.GuardPath, Err: err}
	}

	p := newManagedProcess(s, spec, cmd)
	go func() {
		<-p.exited
		close(release)
	}()
	p.GuardPID = p.PID
	p.PID = 0

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.startTimeout)
	defer cancel()
	go func() {
		select {
		case <-p.exited:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	st, err := WaitStatus(waitCtx, s.StatusDir, GuardRunning)
	if err == nil && st.State != GuardRunning {
		err = fmt.Errorf("supervisor reported %s", st.State)
	}
	if err != nil {
		if !p.childAlive() {
			err = fmt.Errorf("supervisor exited: %v: %w", p.ExitErr(), err)
		}
		_ = p.killChild()
		p.waitExit(s.cfg.teardownTimeout)
		return nil, &OpError{Op: OpGuard, Path: s.GuardPath, Err: err}
	}

	p.PID = st.PID
	p.transition(s.cfg.metrics, StateRunning)
	s.cfg.logger.Info("service started",
		slog.String("strategy", s.Name()),
		slog.Int("pid", p.PID),
		slog.Int("guard_pid", p.GuardPID))
	return p, nil
}

// startPinned starts cmd from a dedicated OS thread that stays parked until
// release is closed. PR_SET_PDEATHSIG fires on exit of the forking thread,
// not the process, so that thread must outlive the supervisor.
func startPinned(cmd *exec.Cmd, release <-chan struct{}) error {
	started := make(chan error, 1)
	go func() {
		// never unlocked: the thread is discarded when this goroutine returns
		runtime.LockOSThread()
		if err := cmd.Start(); err != nil {
			started <- err
			return
		}
		started <- nil
		<-release
	}()
	return <-started
}

// ConfirmAlive reports whether both the supervisor and the service are running
func (s *GuardStrategy) ConfirmAlive(p *ManagedProcess) bool {
	if p.State() != StateRunning || !p.childAlive() {
		return false
	}
	st, err := ReadStatus(s.StatusDir)
	if err != nil || st.State != GuardRunning {
		return false
	}
	return unix.Alive(p.PID)
}

// Teardown signals the supervisor exactly as the kernel would on owner exit.
// If the supervisor does not finish in time, both processes are killed.
func (s *GuardStrategy) Teardown(p *ManagedProcess) error {
	return p.teardown(s.cfg, func() error {
		if !p.childAlive() {
			return s.killOrphan(p)
		}
		if err := unix.Signal(p.GuardPID, syscall.SIGUSR1); err != nil {
			return err
		}
		if p.waitExit(s.cfg.teardownTimeout) {
			return nil
		}

		s.cfg.logger.Warn("supervisor did not exit, killing",
			slog.Int("guard_pid", p.GuardPID),
			slog.Int("pid", p.PID))
		var errs MultiError
		errs.Add(unix.Signal(p.PID, syscall.SIGKILL))
		errs.Add(p.killChild())
		if !p.waitExit(s.cfg.teardownTimeout) {
			errs.Add(ErrTimeout)
		}
		return errs.Err()
	})
}

// killOrphan kills a service whose supervisor is already gone. Only a
// supervisor that died without finishing leaves a live record naming the
// service; a terminal record means the service was reaped and its PID may
// have been reused.
func (s *GuardStrategy) killOrphan(p *ManagedProcess) error {
	st, err := ReadStatus(s.StatusDir)
	if err != nil || st.State.Terminal() || st.PID != p.PID {
		s.cfg.logger.Debug("supervisor gone, service already reaped",
			slog.Int("pid", p.PID),
			slog.Any("err", err))
		return nil
	}
	s.cfg.logger.Warn("supervisor gone, killing orphaned service", slog.Int("pid", p.PID))
	return unix.Signal(p.PID, syscall.SIGKILL)
}
