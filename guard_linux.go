//go:build linux

package meiliguard

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/axondata/go-meiliguard/internal/unix"
)

// serviceSlot holds the one service this supervisor process owns. Whichever
// of the signal path, the exit path or the panic path takes it first decides
// the service's fate.
var serviceSlot Slot[exec.Cmd]

// RunGuard is the body of the meiliguard process. It returns the exit code
// the process should terminate with.
func RunGuard(ctx context.Context, cfg GuardConfig) (int, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServicePath == "" {
		cfg.ServicePath = Paths{ServiceDir: cfg.ServiceDir}.ServiceExe()
	}

	// The handler must exist before the kernel can deliver the signal.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)

	if err := unix.SetParentDeathSignal(syscall.SIGUSR1); err != nil {
		return 1, &OpError{Op: OpGuard, Err: err}
	}
	if cfg.ParentPID != 0 && unix.Getppid() != cfg.ParentPID {
		return 1, &OpError{Op: OpGuard, Err: ErrParentGone}
	}

	publish := func(state GuardState, pid, exitCode int) {
		if cfg.StatusDir == "" {
			return
		}
		if err := WriteStatus(cfg.StatusDir, state, pid, exitCode); err != nil {
			logger.Warn("publishing status failed", slog.Any("err", err))
		}
	}
	publish(GuardStarting, 0, 0)

	if err := VerifyExecutable(cfg.ServicePath); err != nil {
		publish(GuardExited, 0, 1)
		return 1, err
	}

	cmd := exec.Command(cfg.ServicePath, cfg.Args...)
	cmd.Dir = cfg.ServiceDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		publish(GuardExited, 0, 1)
		return 1, &OpError{Op: OpSpawn, Path: cfg.ServicePath, Err: err}
	}
	serviceSlot.Put(cmd)
	pid := cmd.Process.Pid

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	defer func() {
		if r := recover(); r != nil {
			killService(logger, exited)
			publish(GuardDown, 0, 0)
			panic(r)
		}
	}()

	publish(GuardRunning, pid, 0)
	logger.Info("service running", slog.Int("pid", pid), slog.Int("parent_pid", cfg.ParentPID))

	select {
	case sig := <-sigs:
		logger.Info("stopping service", slog.String("signal", sig.String()), slog.Int("pid", pid))
		publish(GuardStopping, pid, 0)
		killService(logger, exited)
		publish(GuardDown, 0, 0)
		return 0, nil

	case <-ctx.Done():
		publish(GuardStopping, pid, 0)
		killService(logger, exited)
		publish(GuardDown, 0, 0)
		return 0, nil

	case werr := <-exited:
		serviceSlot.Take()
		rc := exitCode(werr)
		logger.Info("service exited", slog.Int("pid", pid), slog.Int("code", rc), slog.Any("err", werr))
		publish(GuardExited, 0, rc)
		return rc, nil
	}
}

// killService takes the service out of the slot, kills it and waits for it
// to be reaped. It does nothing if another path already took the service.
func killService(logger *slog.Logger, exited <-chan error) {
	cmd, ok := serviceSlot.Take()
	if !ok {
		return
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warn("killing service failed", slog.Any("err", err))
	}
	<-exited
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if code := ee.ExitCode(); code >= 0 {
			return code
		}
		return 1
	}
	return 1
}
