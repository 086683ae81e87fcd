package meiliguard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"vawter.tech/stopper"
)

// Role is the outcome of an instance claim
type Role int

const (
	// RoleUnknown is the zero value
	RoleUnknown Role = iota
	// RolePrimary owns the instance port and runs the application
	RolePrimary
	// RoleSecondary found a running primary, notified it and must exit
	RoleSecondary
)

// String returns the string representation of the role
func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// WakeSignal is the one-byte payload of the instance protocol
type WakeSignal byte

const (
	// WakeIdle carries no request
	WakeIdle WakeSignal = 0
	// WakeShowWindow asks the primary to surface its window
	WakeShowWindow WakeSignal = 1
)

// Valid reports whether s is a legal protocol value
func (s WakeSignal) Valid() bool {
	return s == WakeIdle || s == WakeShowWindow
}

// String returns the string representation of the signal
func (s WakeSignal) String() string {
	switch s {
	case WakeIdle:
		return "idle"
	case WakeShowWindow:
		return "show-window"
	default:
		return "invalid(" + strconv.Itoa(int(s)) + ")"
	}
}

// WindowManager is the window collaborator a primary instance drives on wake
type WindowManager interface {
	// PrimaryWindowExists reports whether the primary window is currently open
	PrimaryWindowExists() bool
	// CreatePrimaryWindow opens a new primary window
	CreatePrimaryWindow()
	// SurfacePrimaryWindow brings the existing primary window to the front
	SurfacePrimaryWindow()
}

// Claim is the result of Coordinator.Claim. Listener is set only for RolePrimary.
type Claim struct {
	Role     Role
	Listener *WakeListener
}

// Coordinator arbitrates the primary instance over a loopback TCP port
type Coordinator struct {
	// Addr is the loopback address of the instance port
	Addr string

	// DialTimeout bounds each connection attempt
	DialTimeout time.Duration

	// WriteTimeout bounds the write of the wake byte
	WriteTimeout time.Duration

	// ReadTimeout bounds the read of a wake byte on accepted connections
	ReadTimeout time.Duration

	// BackoffMin is the minimum duration between re-dials after a lost bind race
	BackoffMin time.Duration

	// BackoffMax is the maximum duration between re-dials
	BackoffMax time.Duration

	// MaxAttempts is the number of re-dials before a bind failure is fatal
	MaxAttempts int

	logger  *slog.Logger
	metrics MetricsCollector
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithPort sets the loopback port
func WithPort(port int) CoordinatorOption {
	return func(c *Coordinator) {
		c.Addr = net.JoinHostPort(LoopbackHost, strconv.Itoa(port))
	}
}

// WithAddr sets the full listen/dial address
func WithAddr(addr string) CoordinatorOption {
	return func(c *Coordinator) {
		c.Addr = addr
	}
}

// WithDialTimeout sets the timeout for connection attempts
func WithDialTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.DialTimeout = d
	}
}

// WithReadTimeout sets the timeout for reading a wake byte
func WithReadTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.ReadTimeout = d
	}
}

// WithBackoff sets the minimum and maximum backoff durations for re-dials
func WithBackoff(minBackoff, maxBackoff time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.BackoffMin = minBackoff
		c.BackoffMax = maxBackoff
	}
}

// WithMaxAttempts sets the maximum number of re-dials
func WithMaxAttempts(n int) CoordinatorOption {
	return func(c *Coordinator) {
		c.MaxAttempts = n
	}
}

// WithCoordinatorLogger sets the logger
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithCoordinatorMetrics sets the metrics collector
func WithCoordinatorMetrics(m MetricsCollector) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates a Coordinator for the default instance port
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		Addr:         net.JoinHostPort(LoopbackHost, strconv.Itoa(DefaultInstancePort)),
		DialTimeout:  DefaultDialTimeout,
		WriteTimeout: DefaultWriteTimeout,
		ReadTimeout:  DefaultReadTimeout,
		BackoffMin:   DefaultBackoffMin,
		BackoffMax:   DefaultBackoffMax,
		MaxAttempts:  DefaultMaxAttempts,
		logger:       slog.Default(),
		metrics:      NewNoopMetricsCollector(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Claim decides this process's role. A reachable primary receives one wake
// byte and RoleSecondary is returned; the caller must exit. Otherwise the
// port is bound and RolePrimary is returned with a running WakeListener.
// If the bind fails, the port is re-dialed with backoff: a primary that
// won the race is notified, and if none ever answers the claim fails.
func (c *Coordinator) Claim(ctx context.Context) (Claim, error) {
	if err := c.notify(ctx); err == nil {
		c.logger.InfoContext(ctx, "primary instance notified", slog.String("addr", c.Addr))
		c.metrics.InstanceClaim(RoleSecondary)
		return Claim{Role: RoleSecondary}, nil
	}

	var lc net.ListenConfig
	ln, listenErr := lc.Listen(ctx, "tcp", c.Addr)
	if listenErr == nil {
		c.logger.InfoContext(ctx, "instance port claimed", slog.String("addr", ln.Addr().String()))
		c.metrics.InstanceClaim(RolePrimary)
		return Claim{Role: RolePrimary, Listener: newWakeListener(ctx, ln, c)}, nil
	}

	c.logger.DebugContext(ctx, "bind failed, re-dialing", slog.String("addr", c.Addr), slog.Any("err", listenErr))

	backoff := c.BackoffMin
	for attempt := 0; attempt < c.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Claim{}, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.BackoffMax {
			backoff = c.BackoffMax
		}

		if err := c.notify(ctx); err == nil {
			c.logger.InfoContext(ctx, "primary instance notified after lost bind race", slog.String("addr", c.Addr))
			c.metrics.InstanceClaim(RoleSecondary)
			return Claim{Role: RoleSecondary}, nil
		}
	}

	return Claim{}, &OpError{Op: OpClaim, Path: c.Addr, Err: fmt.Errorf("%w: %w", ErrPortUnavailable, listenErr)}
}

// notify connects once and writes a single WakeShowWindow byte
func (c *Coordinator) notify(ctx context.Context) error {
	d := net.Dialer{Timeout: c.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if c.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	}
	if _, err := conn.Write([]byte{byte(WakeShowWindow)}); err != nil {
		return &OpError{Op: OpNotify, Path: c.Addr, Err: err}
	}
	return nil
}

// wakeQueueSize bounds signals accepted but not yet polled
const wakeQueueSize = 16

// WakeListener owns the instance port of a primary instance. Connections are
// accepted in the background; Poll hands their payloads to the caller
// without ever blocking.
type WakeListener struct {
	ln          net.Listener
	sctx        *stopper.Context
	signals     chan WakeSignal
	readTimeout time.Duration
	logger      *slog.Logger
	metrics     MetricsCollector
	closeOnce   sync.Once
	closeErr    error
}

func newWakeListener(ctx context.Context, ln net.Listener, c *Coordinator) *WakeListener {
	l := &WakeListener{
		ln:          ln,
		sctx:        stopper.WithContext(context.WithoutCancel(ctx)),
		signals:     make(chan WakeSignal, wakeQueueSize),
		readTimeout: c.ReadTimeout,
		logger:      c.logger,
		metrics:     c.metrics,
	}

	l.sctx.Go(func(sctx *stopper.Context) error {
		<-sctx.Stopping()
		_ = ln.Close()
		return nil
	})

	l.sctx.Go(l.accept)

	return l
}

// Addr returns the bound address
func (l *WakeListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *WakeListener) accept(sctx *stopper.Context) error {
	for !sctx.IsStopping() {
		conn, err := l.ln.Accept()
		if err != nil {
			if sctx.IsStopping() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Warn("accept failed", slog.Any("err", &OpError{Op: OpAccept, Path: l.ln.Addr().String(), Err: err}))
			select {
			case <-sctx.Stopping():
				return nil
			case <-time.After(DefaultBackoffMin):
			}
			continue
		}

		sig := l.read(conn)
		l.metrics.WakeReceived(sig)
		if !sig.Valid() {
			l.logger.Warn("ignoring invalid wake signal", slog.String("signal", sig.String()))
		}

		select {
		case l.signals <- sig:
		case <-sctx.Stopping():
			return nil
		}
	}
	return nil
}

// read takes at most one byte from conn. A peer that closes or stalls
// without writing yields WakeIdle.
func (l *WakeListener) read(conn net.Conn) WakeSignal {
	defer func() { _ = conn.Close() }()

	if l.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(l.readTimeout))
	}

	var buf [1]byte
	if _, err := io.ReadFull(io.LimitReader(conn, 1), buf[:]); err != nil {
		if !errors.Is(err, io.EOF) {
			l.logger.Debug("wake read failed", slog.Any("err", &OpError{Op: OpAccept, Path: conn.RemoteAddr().String(), Err: err}))
		}
		return WakeIdle
	}
	return WakeSignal(buf[0])
}

// Poll returns the next received signal, or false when none is pending.
// It never blocks.
func (l *WakeListener) Poll() (WakeSignal, bool) {
	select {
	case sig := <-l.signals:
		return sig, true
	default:
		return 0, false
	}
}

// Tick polls once and acts on a show-window request: the primary window is
// created when absent and surfaced otherwise. Invalid values are ignored.
func (l *WakeListener) Tick(wm WindowManager) (WakeSignal, bool) {
	sig, ok := l.Poll()
	if !ok || sig != WakeShowWindow {
		return sig, ok
	}

	if wm.PrimaryWindowExists() {
		l.logger.Debug("surfacing primary window")
		wm.SurfacePrimaryWindow()
	} else {
		l.logger.Info("re-creating primary window")
		wm.CreatePrimaryWindow()
	}
	return sig, ok
}

// Close stops accepting and releases the port. It is safe to call more than once.
func (l *WakeListener) Close() error {
	l.closeOnce.Do(func() {
		l.sctx.Stop(100 * time.Millisecond)
		l.closeErr = l.sctx.Wait()
	})
	return l.closeErr
}
