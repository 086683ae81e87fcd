package log

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
)

// teeHandler hands every record to each of its handlers
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

// NewFile returns a logger writing text to console and JSON to a fresh
// file at path. A previous file at path is removed first, best effort; the
// returned closer closes it.
func NewFile(console io.Writer, path string, verbose bool) (*slog.Logger, io.Closer, error) {
	_ = os.Remove(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log: %w", err)
	}

	opts := &slog.HandlerOptions{Level: Level(verbose)}
	h := teeHandler{
		slog.NewTextHandler(console, opts),
		slog.NewJSONHandler(f, opts),
	}
	return slog.New(NewContextHandler(h)), f, nil
}

// LogPanic logs a panic with its stack and re-panics. Use it deferred
// directly: defer log.LogPanic(logger).
func LogPanic(logger *slog.Logger) {
	if r := recover(); r != nil {
		logger.Error("panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		panic(r)
	}
}
