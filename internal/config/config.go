// Package config loads fleetrecon's TOML configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/roach88/fleetrecon/internal/logging"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const (
	EnvDBDriver = "FLEETRECON_DB_DRIVER"
	EnvDBDSN    = "FLEETRECON_DB_DSN"
	EnvWorkers  = "FLEETRECON_WORKERS"
)

type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Log       LogConfig       `toml:"log"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type ReconcileConfig struct {
	Workers            int     `toml:"workers"`
	MaxConflictRetries int     `toml:"max_conflict_retries"`
	WritesPerSecond    float64 `toml:"writes_per_second"` // 0 means unlimited
	DryRun             bool    `toml:"dry_run"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    "./fleet.db",
		},
		Reconcile: ReconcileConfig{
			Workers:            4,
			MaxConflictRetries: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadToml(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// ApplyEnv overrides database and worker settings from FLEETRECON_*
// variables.
func ApplyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvDBDriver)); v != "" {
		cfg.Database.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDBDSN)); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvWorkers)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", EnvWorkers, err)
		}
		cfg.Reconcile.Workers = n
	}
	return nil
}

// Validate checks driver, DSN, reconcile limits and the [log] section.
func Validate(cfg Config) error {
	switch cfg.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown database driver %q (want %s or %s)", cfg.Database.Driver, DriverSQLite, DriverPostgres)
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return fmt.Errorf("database dsn is required")
	}
	if cfg.Reconcile.Workers < 1 {
		return fmt.Errorf("reconcile workers must be at least 1, got %d", cfg.Reconcile.Workers)
	}
	if cfg.Reconcile.MaxConflictRetries < 0 {
		return fmt.Errorf("reconcile max_conflict_retries must not be negative, got %d", cfg.Reconcile.MaxConflictRetries)
	}
	if cfg.Reconcile.WritesPerSecond < 0 {
		return fmt.Errorf("reconcile writes_per_second must not be negative, got %g", cfg.Reconcile.WritesPerSecond)
	}
	if cfg.Log.Level != "" {
		if _, ok := logging.ParseLevel(cfg.Log.Level); !ok {
			return fmt.Errorf("unknown log level %q", cfg.Log.Level)
		}
	}
	switch cfg.Log.Format {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", cfg.Log.Format)
	}
	return nil
}

// Logging converts the [log] section into a logger configuration.
func (c Config) Logging() logging.Config {
	lc := logging.DefaultConfig(logging.ProfileRuntime)
	if lvl, ok := logging.ParseLevel(c.Log.Level); ok {
		lc.Level = lvl
	}
	if c.Log.Format != "" {
		lc.Format = c.Log.Format
	}
	return lc
}
