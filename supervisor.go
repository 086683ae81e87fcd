package meiliguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// State is the lifecycle state of a ManagedProcess
type State int

const (
	// StateUnstarted is the state before a successful spawn
	StateUnstarted State = iota
	// StateRunning is the state between spawn and teardown
	StateRunning
	// StateTerminated is the final state
	StateTerminated
)

// State string constants
const (
	stateUnstartedStr  = "unstarted"
	stateRunningStr    = "running"
	stateTerminatedStr = "terminated"
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return stateUnstartedStr
	case StateRunning:
		return stateRunningStr
	case StateTerminated:
		return stateTerminatedStr
	default:
		return "unknown"
	}
}

// ChildSpec describes the service process to spawn
type ChildSpec struct {
	// Path is the service executable
	Path string
	// Args are passed to the service verbatim
	Args []string
	// Dir is the working directory
	Dir string
	// Log receives both stdout and stderr
	Log *os.File
	// Env is appended to the inherited environment
	Env []string
}

// SupervisionCapability spawns a service and guarantees its teardown.
// One implementation is selected per platform by NewDefaultStrategy.
type SupervisionCapability interface {
	// Name identifies the strategy in logs and metrics
	Name() string
	// Spawn starts the service described by spec
	Spawn(ctx context.Context, spec ChildSpec) (*ManagedProcess, error)
	// ConfirmAlive reports whether the service is still running
	ConfirmAlive(p *ManagedProcess) bool
	// Teardown terminates the service. Only the first call acts.
	Teardown(p *ManagedProcess) error
}

// ManagedProcess is a spawned service bound to the strategy that supervises it
type ManagedProcess struct {
	// PID is the service process ID
	PID int
	// GuardPID is the supervisor process ID, zero when no supervisor is used
	GuardPID int
	// Dir is the service working directory
	Dir string
	// Log is the file receiving the service output
	Log *os.File
	// Strategy supervises this process
	Strategy SupervisionCapability

	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error

	mu    sync.Mutex
	state State

	teardownOnce sync.Once
	teardownErr  error

	// release holds strategy-private resources such as a job handle
	release func() error
}

func newManagedProcess(strategy SupervisionCapability, spec ChildSpec, cmd *exec.Cmd) *ManagedProcess {
	p := &ManagedProcess{
		PID:      cmd.Process.Pid,
		Dir:      spec.Dir,
		Log:      spec.Log,
		Strategy: strategy,
		cmd:      cmd,
		exited:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p
}

// State returns the current lifecycle state
func (p *ManagedProcess) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *ManagedProcess) transition(metrics MetricsCollector, to State) {
	p.mu.Lock()
	from := p.state
	p.state = to
	p.mu.Unlock()
	if from != to {
		metrics.ProcessStateTransition(p.Strategy.Name(), from, to)
	}
}

// Exited is closed once the directly spawned child has been reaped
func (p *ManagedProcess) Exited() <-chan struct{} {
	return p.exited
}

// ExitErr returns the child's wait error; valid after Exited is closed
func (p *ManagedProcess) ExitErr() error {
	select {
	case <-p.exited:
		return p.waitErr
	default:
		return nil
	}
}

func (p *ManagedProcess) childAlive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// waitExit waits up to timeout for the child to be reaped
func (p *ManagedProcess) waitExit(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.exited:
		return true
	case <-t.C:
		return false
	}
}

// killChild kills the directly spawned child; an already exited child is not an error
func (p *ManagedProcess) killChild() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// teardown runs fn at most once for the lifetime of p. The first call
// returns fn's result; later calls return nil without acting.
func (p *ManagedProcess) teardown(cfg *strategyConfig, fn func() error) error {
	var err error
	p.teardownOnce.Do(func() {
		start := time.Now()
		var errs MultiError
		errs.Add(fn())
		if p.release != nil {
			errs.Add(p.release())
		}
		p.teardownErr = errs.Err()
		if p.teardownErr != nil {
			p.teardownErr = &OpError{Op: OpTeardown, Path: p.Dir, Err: p.teardownErr}
		}
		p.transition(cfg.metrics, StateTerminated)
		cfg.metrics.TeardownDuration(p.Strategy.Name(), time.Since(start), p.teardownErr)
		cfg.logger.Info("service torn down",
			slog.String("strategy", p.Strategy.Name()),
			slog.Int("pid", p.PID),
			slog.Duration("took", time.Since(start)),
			slog.Any("err", p.teardownErr))
		err = p.teardownErr
	})
	return err
}

// strategyConfig is shared by every SupervisionCapability implementation
type strategyConfig struct {
	logger          *slog.Logger
	metrics         MetricsCollector
	startTimeout    time.Duration
	teardownTimeout time.Duration
}

func newStrategyConfig(opts []StrategyOption) *strategyConfig {
	cfg := &strategyConfig{
		logger:          slog.Default(),
		metrics:         NewNoopMetricsCollector(),
		startTimeout:    DefaultStartTimeout,
		teardownTimeout: DefaultTeardownTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// StrategyOption configures a SupervisionCapability
type StrategyOption func(*strategyConfig)

// WithStrategyLogger sets the logger
func WithStrategyLogger(l *slog.Logger) StrategyOption {
	return func(c *strategyConfig) {
		c.logger = l
	}
}

// WithStrategyMetrics sets the metrics collector
func WithStrategyMetrics(m MetricsCollector) StrategyOption {
	return func(c *strategyConfig) {
		c.metrics = m
	}
}

// WithStartTimeout bounds the wait for a supervisor to report the service running
func WithStartTimeout(d time.Duration) StrategyOption {
	return func(c *strategyConfig) {
		c.startTimeout = d
	}
}

// WithTeardownTimeout bounds the wait for the service to exit after a kill request
func WithTeardownTimeout(d time.Duration) StrategyOption {
	return func(c *strategyConfig) {
		c.teardownTimeout = d
	}
}

// command builds the exec.Cmd for spec with output redirected to spec.Log
func command(path string, args []string, spec ChildSpec) *exec.Cmd {
	cmd := exec.Command(path, args...)
	cmd.Dir = spec.Dir
	if spec.Log != nil {
		cmd.Stdout = spec.Log
		cmd.Stderr = spec.Log
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	return cmd
}

// Guard ties a ManagedProcess to the scope that owns it. Close triggers the
// strategy's teardown exactly once, then closes the service log.
//
//	guard := meiliguard.NewGuard(proc)
//	defer guard.Close()
type Guard struct {
	proc *ManagedProcess
	once sync.Once
	err  error
}

// NewGuard wraps p
func NewGuard(p *ManagedProcess) *Guard {
	return &Guard{proc: p}
}

// Process returns the guarded process
func (g *Guard) Process() *ManagedProcess {
	return g.proc
}

// Close tears the process down. Subsequent calls return the first result.
func (g *Guard) Close() error {
	g.once.Do(func() {
		var errs MultiError
		errs.Add(g.proc.Strategy.Teardown(g.proc))
		if g.proc.Log != nil {
			if err := g.proc.Log.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				errs.Add(fmt.Errorf("closing service log: %w", err))
			}
		}
		g.err = errs.Err()
	})
	return g.err
}
