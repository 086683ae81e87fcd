package meiliguard

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultAssetsDir is the assets directory name used when no override is given
const DefaultAssetsDir = "assets"

// Paths is the resolved set of locations the application works with.
// Every derived location is computed from ExeDir and ServiceDir.
type Paths struct {
	// ExeDir is the directory containing the running executable
	ExeDir string
	// ServiceDir holds the service executable, the guard executable and the database
	ServiceDir string
	// AssetsDir is handed to the renderer untouched
	AssetsDir string
}

// ServiceExe returns the path of the search service executable
func (p Paths) ServiceExe() string {
	return filepath.Join(p.ServiceDir, ServiceName+ExeSuffix)
}

// GuardExe returns the path of the supervisor executable
func (p Paths) GuardExe() string {
	return filepath.Join(p.ServiceDir, GuardName+ExeSuffix)
}

// DatabasePath returns the --db-path value
func (p Paths) DatabasePath() string {
	return filepath.Join(p.ServiceDir, DatabaseDir)
}

// DumpPath returns the --dump-dir value; the trailing separator is kept
func (p Paths) DumpPath() string {
	return filepath.Join(p.ServiceDir, DumpDir) + string(filepath.Separator)
}

// ServiceLog returns the file the service's output is redirected to. It sits
// next to the executable, like the owner's log, wherever the service lives.
func (p Paths) ServiceLog() string {
	return filepath.Join(p.ExeDir, ServiceLogFile)
}

// AppLog returns the owner's log file path
func (p Paths) AppLog() string {
	return filepath.Join(p.ExeDir, AppLogFile)
}

// StatusDir returns the directory the guard publishes its status record in
func (p Paths) StatusDir() string {
	return filepath.Join(p.ServiceDir, SuperviseDir)
}

// PathResolver resolves Paths from the executable location and optional overrides
type PathResolver struct {
	// ServiceDir overrides the service directory (--meili)
	ServiceDir string

	// AssetsDir overrides the assets directory (--assets)
	AssetsDir string

	// Executable reports the running executable; os.Executable when nil
	Executable func() (string, error)
}

// PathOption configures a PathResolver
type PathOption func(*PathResolver)

// WithServiceDir overrides the service directory
func WithServiceDir(dir string) PathOption {
	return func(r *PathResolver) {
		r.ServiceDir = dir
	}
}

// WithAssetsDir overrides the assets directory
func WithAssetsDir(dir string) PathOption {
	return func(r *PathResolver) {
		r.AssetsDir = dir
	}
}

// WithExecutable replaces the lookup of the running executable
func WithExecutable(fn func() (string, error)) PathOption {
	return func(r *PathResolver) {
		r.Executable = fn
	}
}

// NewPathResolver creates a PathResolver with the given overrides
func NewPathResolver(opts ...PathOption) *PathResolver {
	r := &PathResolver{Executable: os.Executable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve computes Paths. Overrides win; otherwise the service directory is
// the executable's directory and assets live in its "assets" subdirectory.
func (r *PathResolver) Resolve() (Paths, error) {
	exeFn := r.Executable
	if exeFn == nil {
		exeFn = os.Executable
	}

	exe, err := exeFn()
	if err != nil {
		return Paths{}, &OpError{Op: OpResolve, Err: fmt.Errorf("locating executable: %w", err)}
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	p := Paths{
		ExeDir:     filepath.Dir(exe),
		ServiceDir: r.ServiceDir,
		AssetsDir:  r.AssetsDir,
	}
	if p.ServiceDir == "" {
		p.ServiceDir = p.ExeDir
	}
	if p.AssetsDir == "" {
		p.AssetsDir = filepath.Join(p.ExeDir, DefaultAssetsDir)
	}

	if p.ServiceDir, err = filepath.Abs(p.ServiceDir); err != nil {
		return Paths{}, &OpError{Op: OpResolve, Path: r.ServiceDir, Err: err}
	}
	return p, nil
}

// VerifyExecutable checks that path names a regular file the current user may execute
func VerifyExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return &OpError{Op: OpResolve, Path: path, Err: fmt.Errorf("%w: %w", ErrServiceNotFound, err)}
	}
	if !fi.Mode().IsRegular() {
		return &OpError{Op: OpResolve, Path: path, Err: fmt.Errorf("%w: not a regular file", ErrServiceNotFound)}
	}
	if !isExecutable(fi) {
		return &OpError{Op: OpResolve, Path: path, Err: ErrNotExecutable}
	}
	return nil
}
