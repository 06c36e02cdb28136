package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/iqrahapp/iqrah-mobile-sub001/propagation"
	"github.com/iqrahapp/iqrah-mobile-sub001/review"
	"github.com/iqrahapp/iqrah-mobile-sub001/runtime"
	"github.com/iqrahapp/iqrah-mobile-sub001/scheduler"
	"github.com/iqrahapp/iqrah-mobile-sub001/srs"
	"github.com/iqrahapp/iqrah-mobile-sub001/store"
)

// Environment variables that override file settings.
const (
	EnvConfigPath = "IQRAH_CONFIG_PATH"
	EnvDBDriver   = "IQRAH_DB_DRIVER"
	EnvDBDSN      = "IQRAH_DB_DSN"
	EnvLogLevel   = "LOG_LEVEL"
	EnvLogFile    = "IQRAH_LOG_FILE"
)

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver    string `yaml:"driver,omitempty"`     // "sqlite3" or "postgres"
	DSN       string `yaml:"dsn,omitempty"`        // sqlite file path (~ expanded) or postgres URL
	BatchSize int    `yaml:"batch_size,omitempty"` // ids per IN clause
	// SkipMigrations disables schema migration on startup (migrations run by default).
	SkipMigrations bool `yaml:"skip_migrations,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	File   string `yaml:"file,omitempty"`   // empty logs to stdout
	Pretty bool   `yaml:"pretty,omitempty"` // console output, only without File
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error, trace
}

// Config is the full service configuration.
type Config struct {
	Database    DatabaseConfig        `yaml:"database,omitempty"`
	Log         LogConfig             `yaml:"log,omitempty"`
	SRS         srs.FSRSConfig        `yaml:"srs,omitempty"`
	Propagation propagation.Config    `yaml:"propagation,omitempty"`
	Review      review.Config         `yaml:"review,omitempty"`
	Scheduler   scheduler.Config      `yaml:"scheduler,omitempty"`
	Sweeper     runtime.SweeperConfig `yaml:"sweeper,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:    store.DriverSQLite,
			DSN:       "~/.iqrah/iqrah.db",
			BatchSize: store.DefaultBatchSize,
		},
		Log: LogConfig{
			Level: "info",
		},
		SRS: srs.FSRSConfig{
			MaximumInterval: srs.DefaultMaximumInterval,
		},
		Propagation: propagation.Config{
			MaxDepth:   propagation.DefaultMaxDepth,
			Threshold:  propagation.DefaultThreshold,
			MaxUpdates: propagation.DefaultMaxUpdates,
		},
		Review: review.Config{
			TargetRetention: review.DefaultTargetRetention,
			Epsilon:         review.DefaultEpsilon,
			GradeDeltas:     review.DefaultGradeDeltas(),
		},
		Scheduler: scheduler.DefaultConfig(),
		Sweeper:   runtime.DefaultSweeperConfig(),
	}
}

// GetConfigPath returns the default config file path.
// Can be overridden via IQRAH_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.iqrah/config.yaml"
	}
	return filepath.Join(homeDir, ".iqrah", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Load builds the configuration: defaults, then the YAML file at path (if it
// exists), then a .env file in the working directory, then environment
// overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", expandedPath, err)
		}
		if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config file: %w", err)
		}
	}

	// A missing .env is normal.
	_ = godotenv.Load()
	applyEnv(&cfg)

	if cfg.Database.Driver == store.DriverSQLite {
		cfg.Database.DSN = expandPath(cfg.Database.DSN)
	}
	cfg.Log.File = expandPath(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDBDriver); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv(EnvDBDSN); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.Log.File = v
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", store.DriverSQLite, store.DriverPostgres, c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Database.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("database.batch_size must be >= 0, got %d", c.Database.BatchSize))
	}
	if r := c.Review.TargetRetention; r < 0 || r >= 1 {
		errs = append(errs, fmt.Errorf("review.target_retention must be in (0,1), got %v", r))
	}
	if c.Propagation.MaxDepth < 0 || c.Propagation.MaxUpdates < 0 {
		errs = append(errs, errors.New("propagation limits must be >= 0"))
	}
	if c.Scheduler.SessionSize < 0 {
		errs = append(errs, fmt.Errorf("scheduler.session_size must be >= 0, got %d", c.Scheduler.SessionSize))
	}
	if w := c.Scheduler.BlendWeight; w < 0 || w > 1 {
		errs = append(errs, fmt.Errorf("scheduler.blend_weight must be in [0,1], got %v", w))
	}
	if err := c.Scheduler.Mix.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Scheduler.Composer.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := runtime.ParseSchedule(c.Sweeper.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("sweeper.schedule: %w", err))
	}
	if c.Sweeper.OutcomeWindow < 0 {
		errs = append(errs, fmt.Errorf("sweeper.outcome_window must be >= 0, got %s", c.Sweeper.OutcomeWindow))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes cfg as YAML to path, creating the directory if needed.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
