// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrMuseAPIKeyRequired is returned when MUSE_API_KEY is not set.
	ErrMuseAPIKeyRequired = errors.New("config: MUSE_API_KEY is required")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Muse provider settings
	MuseAPIKey  string `env:"MUSE_API_KEY, required" json:"-"` // Masked in JSON
	MuseBaseURL string `env:"MUSE_BASE_URL" json:"muse_base_url,omitempty"`
	MuseModel   string `env:"MUSE_MODEL" json:"muse_model,omitempty"`

	// Public URL the provider posts generation callbacks to. Empty
	// disables the webhook signal; polling and the sweeper still cover
	// every job.
	CallbackURL string `env:"CALLBACK_URL" json:"callback_url,omitempty"`

	// Persistence settings. An empty DBPath selects the in-memory
	// repository.
	DBPath string `env:"DB_PATH" json:"db_path,omitempty"`

	// Worker pool settings
	PoolCoreWorkers int `env:"POOL_CORE_WORKERS, default=2" json:"pool_core_workers"`
	PoolMaxWorkers  int `env:"POOL_MAX_WORKERS, default=5" json:"pool_max_workers"`
	PoolQueueDepth  int `env:"POOL_QUEUE_DEPTH, default=16" json:"pool_queue_depth"`

	// Reconciliation settings
	ReconcileGrace    time.Duration `env:"RECONCILE_GRACE, default=30s" json:"reconcile_grace"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL, default=15s" json:"reconcile_interval"`
	ReconcileAttempts int           `env:"RECONCILE_ATTEMPTS, default=40" json:"reconcile_attempts"`

	// Expiry sweeper settings
	SweepInterval time.Duration `env:"SWEEP_INTERVAL, default=5m" json:"sweep_interval"`
	SweepMaxAge   time.Duration `env:"SWEEP_MAX_AGE, default=30m" json:"sweep_max_age"`

	// Status cache settings
	CacheQuickTTL time.Duration `env:"CACHE_QUICK_TTL, default=3s" json:"cache_quick_ttl"`
	CacheByIDTTL  time.Duration `env:"CACHE_BY_ID_TTL, default=10s" json:"cache_by_id_ttl"`
	CacheListTTL  time.Duration `env:"CACHE_LIST_TTL, default=30s" json:"cache_list_ttl"`

	// Artifact storage settings. S3 when bucket and region are set,
	// local disk otherwise.
	ArchiveDir         string `env:"ARCHIVE_DIR" json:"archive_dir,omitempty"`
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "MUSE_API_KEY") {
			return nil, ErrMuseAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent.
func (c *Config) Validate() error {
	if c.MuseAPIKey == "" {
		return ErrMuseAPIKeyRequired
	}
	if c.PoolMaxWorkers < c.PoolCoreWorkers {
		return fmt.Errorf("config: POOL_MAX_WORKERS (%d) must be >= POOL_CORE_WORKERS (%d)",
			c.PoolMaxWorkers, c.PoolCoreWorkers)
	}
	if c.SweepMaxAge <= 0 {
		return fmt.Errorf("config: SWEEP_MAX_AGE must be positive, got %s", c.SweepMaxAge)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, MuseBaseURL: %s, CallbackURL: %s, DBPath: %s, PoolCoreWorkers: %d, PoolMaxWorkers: %d, SweepInterval: %s, SweepMaxAge: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.MuseBaseURL,
		c.CallbackURL,
		c.DBPath,
		c.PoolCoreWorkers,
		c.PoolMaxWorkers,
		c.SweepInterval,
		c.SweepMaxAge,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
