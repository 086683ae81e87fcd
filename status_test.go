package meiliguard

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRecord(t *testing.T) {
	now := time.Unix(1700000000, 123456789)

	tests := []struct {
		name     string
		state    GuardState
		pid      int
		exitCode int
		wantPID  int
		wantExit int
	}{
		{"starting", GuardStarting, 0, 0, 0, 0},
		{"running", GuardRunning, 4242, 0, 4242, 0},
		{"stopping", GuardStopping, 4242, 0, 4242, 0},
		{"down clears pid", GuardDown, 4242, 0, 0, 0},
		{"exited keeps code", GuardExited, 4242, 3, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := encodeStatus(tt.state, tt.pid, tt.exitCode, now)
			st, err := decodeStatus(rec[:])
			require.NoError(t, err)

			assert.Equal(t, tt.state, st.State)
			assert.Equal(t, tt.wantPID, st.PID)
			assert.Equal(t, tt.wantExit, st.ExitCode)
			assert.True(t, now.Equal(st.Since), "since %v != %v", st.Since, now)
			assert.Equal(t, rec, st.Raw)
		})
	}
}

func TestStatusRecordLayout(t *testing.T) {
	rec := encodeStatus(GuardRunning, 0x01020304, 0, time.Unix(0, 0))

	// TAI64 label of the epoch
	assert.Equal(t, []byte{0x40, 0, 0, 0, 0, 0, 0, 0x0a}, rec[0:8])
	assert.Equal(t, []byte{1, 2, 3, 4}, rec[12:16])
	assert.Equal(t, byte('u'), rec[16])
	assert.Equal(t, byte(1), rec[17])
}

func TestDecodeStatusErrors(t *testing.T) {
	_, err := decodeStatus(make([]byte, StatusFileSize-1))
	assert.ErrorIs(t, err, ErrDecode)

	bad := make([]byte, StatusFileSize)
	bad[offsetRun] = 9
	_, err = decodeStatus(bad)
	assert.ErrorIs(t, err, ErrDecode)

	st, err := decodeStatus(make([]byte, StatusFileSize))
	require.NoError(t, err)
	assert.Equal(t, GuardUnknown, st.State, "a zeroed record carries no want flag")
	assert.True(t, st.Since.IsZero())
}

func TestReadStatusMissing(t *testing.T) {
	_, err := ReadStatus(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestRemoveStatus(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, removeStatus(dir))

	path := filepath.Join(dir, StatusFile)
	require.NoError(t, os.WriteFile(path, make([]byte, StatusFileSize), FileMode))
	require.NoError(t, removeStatus(dir))
	_, err := os.Stat(path)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestGuardStateTerminal(t *testing.T) {
	for _, s := range []GuardState{GuardUnknown, GuardStarting, GuardRunning, GuardStopping} {
		assert.False(t, s.Terminal(), s.String())
	}
	assert.True(t, GuardDown.Terminal())
	assert.True(t, GuardExited.Terminal())
}
