//go:build windows

package meiliguard

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"
)

const (
	ownerName   = "kumo-owner"
	ownerDirEnv = "MEILIGUARD_TEST_DIR"

	stillActive = 259
)

func init() {
	helpers[ownerName] = fakeOwnerMain
}

// fakeOwnerMain spawns the service in a job, reports its PID and waits to
// be terminated without running any teardown.
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
	fmt.Printf("pid %d\n", p.PID)
	for {
		time.Sleep(time.Hour)
	}
}

func processAlive(pid int) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer func() { _ = windows.CloseHandle(h) }()

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}

func TestJobStrategyTeardown(t *testing.T) {
	paths := helperPaths(t)
	metrics := newCountingMetrics()
	s := NewJobStrategy(WithStrategyMetrics(metrics))

	logFile, err := OpenLog(paths.ServiceLog())
	require.NoError(t, err)
	defer func() { _ = logFile.Close() }()

	p, err := s.Spawn(context.Background(), ChildSpec{
		Path: paths.ServiceExe(),
		Args: ServiceArgs(DefaultServiceAddr, paths),
		Dir:  paths.ServiceDir,
		Log:  logFile,
	})
	require.NoError(t, err)
	assert.True(t, s.ConfirmAlive(p))
	assert.True(t, processAlive(p.PID))

	require.NoError(t, s.Teardown(p))
	require.NoError(t, s.Teardown(p))
	assert.Equal(t, 1, metrics.teardownCount())
	assert.False(t, s.ConfirmAlive(p))
	assert.False(t, processAlive(p.PID))
}

func TestOwnerTerminationStopsService(t *testing.T) {
	paths := helperPaths(t)
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

	var pid int
	select {
	case line, ok := <-lines:
		require.True(t, ok, "owner exited before reporting")
		_, err := fmt.Sscanf(line, "pid %d", &pid)
		require.NoError(t, err)
	case <-time.After(20 * time.Second):
		_ = cmd.Process.Kill()
		t.Fatal("owner did not report its child")
	}
	require.True(t, processAlive(pid))

	// TerminateProcess: nothing in the owner runs
	require.NoError(t, cmd.Process.Kill())
	_ = cmd.Wait()

	require.Eventually(t, func() bool { return !processAlive(pid) }, 10*time.Second, 10*time.Millisecond,
		"service outlived its owner")
}
