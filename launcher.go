package meiliguard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"
)

// MasterKeyEnv carries the access credential to the service
const MasterKeyEnv = "MEILI_MASTER_KEY"

// versionProbeTimeout bounds the `-V` invocation
const versionProbeTimeout = 5 * time.Second

// Launcher starts the search service under a supervision strategy
type Launcher struct {
	// Paths locates the service and its files
	Paths Paths

	// Strategy supervises the spawned service
	Strategy SupervisionCapability

	// HTTPAddr is the address the service binds
	HTTPAddr string

	// HealthProbe enables the post-launch health probe
	HealthProbe bool

	// HealthAttempts bounds the health probe
	HealthAttempts int

	// HTTPClient is handed to the returned ServiceClient
	HTTPClient *http.Client

	logger  *slog.Logger
	metrics MetricsCollector
}

// LauncherOption configures a Launcher
type LauncherOption func(*Launcher)

// WithHTTPAddr sets the service bind address
func WithHTTPAddr(addr string) LauncherOption {
	return func(l *Launcher) {
		l.HTTPAddr = addr
	}
}

// WithHealthProbe enables or disables the post-launch health probe
func WithHealthProbe(enabled bool) LauncherOption {
	return func(l *Launcher) {
		l.HealthProbe = enabled
	}
}

// WithHTTPClient sets the client used to reach the service
func WithHTTPClient(c *http.Client) LauncherOption {
	return func(l *Launcher) {
		l.HTTPClient = c
	}
}

// WithLauncherLogger sets the logger
func WithLauncherLogger(lg *slog.Logger) LauncherOption {
	return func(l *Launcher) {
		l.logger = lg
	}
}

// WithLauncherMetrics sets the metrics collector
func WithLauncherMetrics(m MetricsCollector) LauncherOption {
	return func(l *Launcher) {
		l.metrics = m
	}
}

// NewLauncher creates a Launcher
func NewLauncher(paths Paths, strategy SupervisionCapability, opts ...LauncherOption) *Launcher {
	l := &Launcher{
		Paths:          paths,
		Strategy:       strategy,
		HTTPAddr:       DefaultServiceAddr,
		HealthProbe:    true,
		HealthAttempts: DefaultHealthAttempts,
		logger:         slog.Default(),
		metrics:        NewNoopMetricsCollector(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LaunchedService is a running service and everything needed to use it
type LaunchedService struct {
	// Guard tears the service down when closed
	Guard *Guard
	// Credential is the service master key for this launch
	Credential AccessCredential
	// Client reaches the service HTTP API with Credential
	Client *ServiceClient
	// Version is the service's self-reported version, if the probe succeeded
	Version string

	health chan error
}

// Close tears the service down
func (s *LaunchedService) Close() error {
	return s.Guard.Close()
}

// HealthResult delivers the outcome of the health probe once. It never
// delivers when the probe is disabled.
func (s *LaunchedService) HealthResult() <-chan error {
	return s.health
}

// ServiceArgs builds the fixed service command line
func ServiceArgs(addr string, paths Paths) []string {
	return []string{
		"--no-analytics",
		"--http-addr=" + addr,
		"--db-path=" + paths.DatabasePath(),
		"--dump-dir=" + paths.DumpPath(),
	}
}

// Launch verifies the service executable, truncates its log, spawns it with
// a fresh credential and returns a handle whose Guard owns its lifetime.
func (l *Launcher) Launch(ctx context.Context) (*LaunchedService, error) {
	exe := l.Paths.ServiceExe()
	if err := VerifyExecutable(exe); err != nil {
		return nil, err
	}

	version := l.probeVersion(ctx, exe)

	cred, err := NewAccessCredential()
	if err != nil {
		return nil, &OpError{Op: OpSpawn, Path: exe, Err: err}
	}

	logFile, err := OpenLog(l.Paths.ServiceLog())
	if err != nil {
		return nil, err
	}

	proc, err := l.Strategy.Spawn(ctx, ChildSpec{
		Path: exe,
		Args: ServiceArgs(l.HTTPAddr, l.Paths),
		Dir:  l.Paths.ServiceDir,
		Log:  logFile,
		Env:  []string{MasterKeyEnv + "=" + cred.Secret()},
	})
	if err != nil {
		_ = logFile.Close()
		return nil, err
	}
	guard := NewGuard(proc)

	client, err := NewServiceClient("http://"+l.HTTPAddr, cred, l.HTTPClient)
	if err != nil {
		_ = guard.Close()
		return nil, err
	}

	svc := &LaunchedService{
		Guard:      guard,
		Credential: cred,
		Client:     client,
		Version:    version,
		health:     make(chan error, 1),
	}

	l.logger.InfoContext(ctx, "search service launched",
		slog.String("strategy", l.Strategy.Name()),
		slog.String("url", client.URL()),
		slog.String("version", version),
		slog.Any("credential", cred))

	if l.HealthProbe {
		go l.probeHealth(ctx, svc)
	}
	return svc, nil
}

// probeHealth is best effort: the result is logged and recorded, never fatal
func (l *Launcher) probeHealth(ctx context.Context, svc *LaunchedService) {
	err := svc.Client.WaitHealthy(ctx, l.HealthAttempts, 50*time.Millisecond, DefaultBackoffMax)
	l.metrics.HealthProbe(err)
	if err != nil {
		l.logger.WarnContext(ctx, "search service health probe failed", slog.Any("err", err))
	} else {
		l.logger.InfoContext(ctx, "search service available", slog.String("url", svc.Client.URL()))
	}
	svc.health <- err
}

// probeVersion runs `<exe> -V`; failures only produce a log line
func (l *Launcher) probeVersion(ctx context.Context, exe string) string {
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, exe, "-V").Output()
	if err != nil {
		l.logger.DebugContext(ctx, "version probe failed", slog.String("path", exe), slog.Any("err", err))
		return ""
	}
	return strings.TrimSpace(string(out))
}

// OpenLog removes any previous log at path and creates it empty. Removal
// failures are ignored.
func OpenLog(path string) (*os.File, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Debug("removing stale log failed", slog.String("path", path), slog.Any("err", err))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, FileMode)
	if err != nil {
		return nil, &OpError{Op: OpSpawn, Path: path, Err: fmt.Errorf("opening log: %w", err)}
	}
	return f, nil
}
