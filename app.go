package meiliguard

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// TickFunc runs once per application tick on the control goroutine. It must not block.
type TickFunc func(ctx context.Context)

// App is the primary instance's control loop. It owns the wake listener and
// the launched service; both are released when Run returns or panics.
type App struct {
	listener *WakeListener
	launcher *Launcher
	windows  WindowManager

	tick     time.Duration
	onLaunch func(*LaunchedService)
	onTick   []TickFunc
	logger   *slog.Logger
}

// AppOption configures an App
type AppOption func(*App)

// WithTickInterval sets the control loop period
func WithTickInterval(d time.Duration) AppOption {
	return func(a *App) {
		a.tick = d
	}
}

// WithOnLaunch registers a callback receiving the launched service
func WithOnLaunch(fn func(*LaunchedService)) AppOption {
	return func(a *App) {
		a.onLaunch = fn
	}
}

// WithTickFunc adds a function run on every tick after the wake poll
func WithTickFunc(fn TickFunc) AppOption {
	return func(a *App) {
		a.onTick = append(a.onTick, fn)
	}
}

// WithAppLogger sets the logger
func WithAppLogger(l *slog.Logger) AppOption {
	return func(a *App) {
		a.logger = l
	}
}

// NewApp creates an App for a primary instance
func NewApp(listener *WakeListener, launcher *Launcher, windows WindowManager, opts ...AppOption) *App {
	a := &App{
		listener: listener,
		launcher: launcher,
		windows:  windows,
		tick:     DefaultTickInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run launches the service and ticks until ctx ends. The service is torn
// down on every return path, including a panic in a tick.
func (a *App) Run(ctx context.Context) (err error) {
	defer func() {
		err = errors.Join(err, a.listener.Close())
	}()

	svc, err := a.launcher.Launch(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			a.logger.Error("service teardown failed", slog.Any("err", cerr))
			err = errors.Join(err, cerr)
		}
	}()

	if a.onLaunch != nil {
		a.onLaunch(svc)
	}

	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("shutting down", slog.Any("cause", context.Cause(ctx)))
			return nil

		case herr := <-svc.HealthResult():
			if herr != nil && !svc.Guard.Process().Strategy.ConfirmAlive(svc.Guard.Process()) {
				return &OpError{Op: OpHealth, Path: svc.Client.URL(), Err: ErrNotRunning}
			}

		case <-ticker.C:
			if sig, ok := a.listener.Tick(a.windows); ok {
				a.logger.Debug("wake signal", slog.String("signal", sig.String()))
			}
			for _, fn := range a.onTick {
				fn(ctx)
			}
		}
	}
}
