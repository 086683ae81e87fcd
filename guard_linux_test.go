//go:build linux

package meiliguard

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axondata/go-meiliguard/internal/unix"
)

const (
	ownerName   = "kumo-owner"
	ownerDirEnv = "MEILIGUARD_TEST_DIR"
)

func init() {
	helpers[GuardName] = fakeGuardMain
	helpers[ownerName] = fakeOwnerMain
}

// fakeGuardMain parses the supervisor command line the way cmd/meiliguard does
func fakeGuardMain(args []string) int {
	var cfg GuardConfig
	for i, arg := range args {
		if arg == ArgSeparator {
			cfg.Args = args[i+1:]
			break
		}
		name, value, _ := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		switch name {
		case "meili":
			cfg.ServiceDir = value
		case "service":
			cfg.ServicePath = value
		case "parent-pid":
			cfg.ParentPID, _ = strconv.Atoi(value)
		case "status-dir":
			cfg.StatusDir = value
		}
	}
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

	code, err := RunGuard(context.Background(), cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return code
}

// fakeOwnerMain spawns the service through a guard, reports both PIDs and
// waits to be killed without running any teardown.
func fakeOwnerMain(_ []string) int {
	dir := os.Getenv(ownerDirEnv)
	paths := Paths{ExeDir: dir, ServiceDir: dir}

	logFile, err := OpenLog(paths.ServiceLog())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	p, err := NewDefaultStrategy(paths).Spawn(context.Background(), ChildSpec{
		Path: paths.ServiceExe(),
		Args: ServiceArgs(DefaultServiceAddr, paths),
		Dir:  dir,
		Log:  logFile,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("pids %d %d\n", p.GuardPID, p.PID)
	for {
		time.Sleep(time.Hour)
	}
}

func guardPaths(t *testing.T) Paths {
	t.Helper()
	paths := helperPaths(t)
	installHelper(t, paths.ServiceDir, GuardName)
	return paths
}

func spawnGuarded(t *testing.T, s *GuardStrategy, paths Paths) *ManagedProcess {
	t.Helper()

	logFile, err := OpenLog(paths.ServiceLog())
	require.NoError(t, err)
	t.Cleanup(func() { _ = logFile.Close() })

	p, err := s.Spawn(context.Background(), ChildSpec{
		Path: paths.ServiceExe(),
		Args: ServiceArgs(DefaultServiceAddr, paths),
		Dir:  paths.ServiceDir,
		Log:  logFile,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Signal(p.PID, syscall.SIGKILL)
		_ = unix.Signal(p.GuardPID, syscall.SIGKILL)
	})
	return p
}

func requireGone(t *testing.T, pid int, msg string) {
	t.Helper()
	require.Eventually(t, func() bool { return !unix.Alive(pid) }, 10*time.Second, 10*time.Millisecond, msg)
}

func TestGuardStrategyTeardown(t *testing.T) {
	paths := guardPaths(t)
	metrics := newCountingMetrics()
	s := NewGuardStrategy(paths.GuardExe(), paths.StatusDir(), WithStrategyMetrics(metrics))

	p := spawnGuarded(t, s, paths)
	require.NotZero(t, p.PID)
	require.NotZero(t, p.GuardPID)
	assert.NotEqual(t, p.PID, p.GuardPID)
	assert.True(t, s.ConfirmAlive(p))
	assert.True(t, unix.Alive(p.PID))

	st, err := ReadStatus(paths.StatusDir())
	require.NoError(t, err)
	assert.Equal(t, GuardRunning, st.State)
	assert.Equal(t, p.PID, st.PID)

	require.NoError(t, s.Teardown(p))
	require.NoError(t, s.Teardown(p))
	assert.Equal(t, 1, metrics.teardownCount())
	assert.False(t, s.ConfirmAlive(p))

	requireGone(t, p.PID, "service survived teardown")
	requireGone(t, p.GuardPID, "guard survived teardown")

	st, err = ReadStatus(paths.StatusDir())
	require.NoError(t, err)
	assert.Equal(t, GuardDown, st.State)
}

func TestGuardStopsServiceOnDeathSignal(t *testing.T) {
	paths := guardPaths(t)
	s := NewGuardStrategy(paths.GuardExe(), paths.StatusDir())
	p := spawnGuarded(t, s, paths)

	// the signal the kernel sends when the owner's forking thread exits
	require.NoError(t, unix.Signal(p.GuardPID, syscall.SIGUSR1))

	select {
	case <-p.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("guard did not exit on its death signal")
	}
	assert.NoError(t, p.ExitErr())
	requireGone(t, p.PID, "service survived the death signal")
	require.NoError(t, s.Teardown(p))
}

func TestGuardKilledLeavesServiceRunning(t *testing.T) {
	paths := guardPaths(t)
	s := NewGuardStrategy(paths.GuardExe(), paths.StatusDir())
	p := spawnGuarded(t, s, paths)

	require.NoError(t, unix.Signal(p.GuardPID, syscall.SIGKILL))
	select {
	case <-p.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("guard did not die")
	}

	// SIGKILL gives the guard no chance to act: the service is orphaned
	time.Sleep(200 * time.Millisecond)
	assert.True(t, unix.Alive(p.PID), "service is expected to outlive a SIGKILLed guard")
	assert.False(t, s.ConfirmAlive(p))

	require.NoError(t, s.Teardown(p))
	requireGone(t, p.PID, "teardown must still reach an orphaned service")
}

func TestGuardTeardownSparesReusedPID(t *testing.T) {
	paths := guardPaths(t)
	s := NewGuardStrategy(paths.GuardExe(), paths.StatusDir())
	p := spawnGuarded(t, s, paths)

	require.NoError(t, unix.Signal(p.PID, syscall.SIGKILL))
	select {
	case <-p.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("guard did not exit after its service died")
	}
	st, err := ReadStatus(paths.StatusDir())
	require.NoError(t, err)
	require.Equal(t, GuardExited, st.State)

	// an unrelated process now holds the recorded PID
	other := exec.Command(paths.ServiceExe())
	require.NoError(t, other.Start())
	t.Cleanup(func() {
		_ = other.Process.Kill()
		_ = other.Wait()
	})
	p.PID = other.Process.Pid

	require.NoError(t, s.Teardown(p))
	time.Sleep(200 * time.Millisecond)
	assert.True(t, unix.Alive(other.Process.Pid), "teardown signalled a process the guard had already reaped")
}

func TestGuardSurvivesSpawningThreadExit(t *testing.T) {
	paths := guardPaths(t)
	s := NewGuardStrategy(paths.GuardExe(), paths.StatusDir())

	logFile, err := OpenLog(paths.ServiceLog())
	require.NoError(t, err)
	t.Cleanup(func() { _ = logFile.Close() })

	type spawned struct {
		p   *ManagedProcess
		err error
	}
	done := make(chan spawned, 1)
	go func() {
		// returning while locked makes the runtime terminate this thread
		runtime.LockOSThread()
		p, err := s.Spawn(context.Background(), ChildSpec{
			Path: paths.ServiceExe(),
			Args: ServiceArgs(DefaultServiceAddr, paths),
			Dir:  paths.ServiceDir,
			Log:  logFile,
		})
		done <- spawned{p, err}
	}()

	res := <-done
	require.NoError(t, res.err)
	p := res.p
	t.Cleanup(func() {
		_ = unix.Signal(p.PID, syscall.SIGKILL)
		_ = unix.Signal(p.GuardPID, syscall.SIGKILL)
	})

	time.Sleep(500 * time.Millisecond)
	assert.True(t, unix.Alive(p.GuardPID), "guard died with the calling thread")
	assert.True(t, unix.Alive(p.PID), "service died with the calling thread")
	assert.True(t, s.ConfirmAlive(p))

	require.NoError(t, s.Teardown(p))
	requireGone(t, p.PID, "service survived teardown")
}

func TestOwnerDeathStopsService(t *testing.T) {
	paths := guardPaths(t)
	owner := installHelper(t, paths.ServiceDir, ownerName)

	cmd := exec.Command(owner)
	cmd.Env = append(os.Environ(), ownerDirEnv+"="+paths.ServiceDir)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	lines := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(stdout)
		if sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	var guardPID, servicePID int
	select {
	case line, ok := <-lines:
		require.True(t, ok, "owner exited before reporting")
		_, err := fmt.Sscanf(line, "pids %d %d", &guardPID, &servicePID)
		require.NoError(t, err)
	case <-time.After(20 * time.Second):
		_ = cmd.Process.Kill()
		t.Fatal("owner did not report its children")
	}
	t.Cleanup(func() {
		_ = unix.Signal(servicePID, syscall.SIGKILL)
		_ = unix.Signal(guardPID, syscall.SIGKILL)
	})
	require.True(t, unix.Alive(servicePID))

	// no deferred cleanup runs in the owner
	require.NoError(t, cmd.Process.Kill())
	_ = cmd.Wait()

	requireGone(t, servicePID, "service outlived its owner")
	requireGone(t, guardPID, "guard outlived its owner")
}

func TestGuardRejectsWrongParent(t *testing.T) {
	paths := guardPaths(t)

	cmd := exec.Command(paths.GuardExe(),
		"--meili="+paths.ServiceDir,
		"--parent-pid=1",
		"--status-dir="+paths.StatusDir(),
		ArgSeparator)
	out, err := cmd.CombinedOutput()

	var ee *exec.ExitError
	require.True(t, errors.As(err, &ee), "guard must fail: %s", out)
	assert.Equal(t, 1, ee.ExitCode())
	assert.Contains(t, string(out), ErrParentGone.Error())

	_, err = ReadStatus(paths.StatusDir())
	assert.ErrorIs(t, err, os.ErrNotExist, "nothing is published before the parent check")
}

func TestGuardForwardsServiceExitCode(t *testing.T) {
	paths := guardPaths(t)
	t.Setenv(helperExitEnv, "5")

	cmd := exec.Command(paths.GuardExe(),
		"--meili="+paths.ServiceDir,
		"--status-dir="+paths.StatusDir(),
		ArgSeparator, "--no-analytics")
	out, err := cmd.CombinedOutput()

	var ee *exec.ExitError
	require.True(t, errors.As(err, &ee), "guard output: %s", out)
	assert.Equal(t, 5, ee.ExitCode())
	assert.Contains(t, string(out), "args=--no-analytics")

	st, err := ReadStatus(paths.StatusDir())
	require.NoError(t, err)
	assert.Equal(t, GuardExited, st.State)
	assert.Equal(t, 5, st.ExitCode)
}

func TestGuardMissingService(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(helperEnv, "1")
	guard := installHelper(t, dir, GuardName)
	statusDir := filepath.Join(dir, SuperviseDir)

	s := NewGuardStrategy(guard, statusDir, WithStartTimeout(10*time.Second))
	_, err := s.Spawn(context.Background(), ChildSpec{
		Path: filepath.Join(dir, ServiceName),
		Dir:  dir,
	})
	require.Error(t, err)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, OpGuard, opErr.Op)
}
