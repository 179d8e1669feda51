// Package config loads engine configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server holds the runtime configuration for the engine process.
type Server struct {
	// Addr is the listen address for the transport boundary.
	Addr string `env:"VOXBANK_ADDR" envDefault:":8080"`

	// SnapshotPath is the SQLite snapshot database path.
	SnapshotPath string `env:"VOXBANK_SNAPSHOT_PATH" envDefault:"voxbank.db"`

	// SnapshotInterval is how often in-memory state is persisted.
	SnapshotInterval time.Duration `env:"VOXBANK_SNAPSHOT_INTERVAL" envDefault:"30s"`

	// SessionTimeout is how long a session may sit idle before the
	// sweep resolves it as abandoned.
	SessionTimeout time.Duration `env:"VOXBANK_SESSION_TIMEOUT" envDefault:"24h"`

	// SweepInterval is how often the sweep scans for idle sessions.
	SweepInterval time.Duration `env:"VOXBANK_SWEEP_INTERVAL" envDefault:"1m"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Exitf writes a formatted error message to stderr and exits with code 1.
// It provides a consistent fatal-exit pattern for CLI entry points.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
