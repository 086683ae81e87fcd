//go:build windows

package winjob

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sleeperEnv = "WINJOB_TEST_SLEEPER"

func TestMain(m *testing.M) {
	if os.Getenv(sleeperEnv) == "1" {
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func startSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	self, err := os.Executable()
	require.NoError(t, err)

	cmd := exec.Command(self)
	cmd.Env = append(os.Environ(), sleeperEnv+"=1")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	return cmd
}

func TestCloseKillsMembers(t *testing.T) {
	job, err := New()
	require.NoError(t, err)

	cmd := startSleeper(t)
	require.NoError(t, job.Assign(cmd.Process.Pid))

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	require.NoError(t, job.Close())
	require.NoError(t, job.Close())

	select {
	case err := <-exited:
		require.Error(t, err, "a killed member exits with a failure status")
	case <-time.After(10 * time.Second):
		t.Fatal("member survived closing the job")
	}
}

func TestAssignUnknownProcess(t *testing.T) {
	job, err := New()
	require.NoError(t, err)
	defer func() { _ = job.Close() }()

	require.Error(t, job.Assign(0x7ffffff0))
}
