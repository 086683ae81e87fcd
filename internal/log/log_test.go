package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileReplacesPreviousLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kumo.log")
	require.NoError(t, os.WriteFile(path, []byte("old run\n"), 0o644))

	var console bytes.Buffer
	logger, closer, err := NewFile(&console, path, false)
	require.NoError(t, err)

	ctx := ContextAttrs(context.Background(), slog.Int("pid", 42))
	logger.InfoContext(ctx, "started", slog.String("dir", "/srv"))
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "old run")
	assert.NotContains(t, string(data), "hidden")

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "started", rec["msg"])
	assert.Equal(t, "/srv", rec["dir"])
	assert.EqualValues(t, 42, rec["pid"])

	assert.Contains(t, console.String(), "msg=started")
	assert.Contains(t, console.String(), "pid=42")
}

func TestNewFileVerbose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kumo.log")
	var console bytes.Buffer
	logger, closer, err := NewFile(&console, path, true)
	require.NoError(t, err)
	defer func() { _ = closer.Close() }()

	logger.With(slog.String("component", "tick")).WithGroup("g").Debug("visible", slog.Int("n", 1))
	assert.Contains(t, console.String(), "component=tick")
	assert.Contains(t, console.String(), "g.n=1")
}

func TestContextAttrsAccumulate(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := ContextAttrs(context.Background(), slog.String("a", "1"))
	ctx = ContextAttrs(ctx, slog.String("b", "2"))
	logger.InfoContext(ctx, "hello")

	assert.Contains(t, buf.String(), `"a":"1"`)
	assert.Contains(t, buf.String(), `"b":"2"`)
}

func TestLogPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	assert.PanicsWithValue(t, "boom", func() {
		defer LogPanic(logger)
		panic("boom")
	})
	assert.Contains(t, buf.String(), `"panic":"boom"`)
	assert.Contains(t, buf.String(), "stack")
}
