// Package environment builds the immutable execution context the job runs
// in: a fixed timezone and a working directory, resolved once at startup.
// Nothing here mutates process-global state; consumers take the location
// explicitly so wall-clock behavior stays deterministic across deployments.
package environment

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	// TZ is an IANA timezone name, e.g. "Europe/Moscow".
	TZ string
	// WorkDir is the job's working directory. Created if absent.
	WorkDir string
}

// Environment is the resolved sandbox context. Construction is all-or-nothing:
// an unknown timezone or unusable working directory fails New, and a failed
// New leaves nothing runnable behind.
type Environment struct {
	tz      string
	loc     *time.Location
	workDir string
}

func New(cfg Config) (*Environment, error) {
	if cfg.TZ == "" {
		return nil, fmt.Errorf("environment: timezone is required")
	}
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		return nil, fmt.Errorf("environment: unknown timezone %q: %w", cfg.TZ, err)
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = "."
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("environment: create work dir %s: %w", workDir, err)
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("environment: resolve work dir %s: %w", workDir, err)
	}

	return &Environment{tz: cfg.TZ, loc: loc, workDir: abs}, nil
}

// TZ returns the configured IANA timezone name.
func (e *Environment) TZ() string { return e.tz }

// Location returns the resolved timezone for schedules and display times.
func (e *Environment) Location() *time.Location { return e.loc }

// WorkDir returns the absolute working directory for job invocations.
func (e *Environment) WorkDir() string { return e.workDir }

// Now returns the current wall-clock time in the sandbox timezone.
func (e *Environment) Now() time.Time { return time.Now().In(e.loc) }
