// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Storage StorageConfig `mapstructure:"storage"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ArchiveConfig governs container building and sealing.
type ArchiveConfig struct {
	BaseDir            string `mapstructure:"base_dir"`
	PartSizeLimitBytes int64  `mapstructure:"part_size_limit_bytes"`
	ImmediateUpload    bool   `mapstructure:"immediate_upload"`
}

// StorageConfig selects and configures the remote object store backend.
type StorageConfig struct {
	// Backend is one of "gcs", "s3", "local", or "memory".
	Backend   string `mapstructure:"backend"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	Anonymous bool   `mapstructure:"anonymous"`
	LocalDir  string `mapstructure:"local_dir"`
}

// CatalogConfig controls the optional Postgres mirror of index records.
type CatalogConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for sealed-part notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RetryConfig shapes the remote operation retry policy.
type RetryConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// RunnerConfig governs batch-run concurrency and deadlines.
type RunnerConfig struct {
	Concurrency     int `mapstructure:"concurrency"`
	DeadlineMinutes int `mapstructure:"deadline_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COURTARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("archive.base_dir", "archives")
	v.SetDefault("archive.part_size_limit_bytes", int64(1)<<30)
	v.SetDefault("archive.immediate_upload", true)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "remote")
	v.SetDefault("catalog.table", "archive_records")
	v.SetDefault("catalog.max_open_conns", 4)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.backoff_initial_ms", 500)
	v.SetDefault("retry.backoff_max_ms", 30000)
	v.SetDefault("runner.concurrency", 4)
	v.SetDefault("runner.deadline_minutes", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Archive.BaseDir == "" {
		return fmt.Errorf("archive.base_dir is required")
	}
	if c.Archive.PartSizeLimitBytes < 0 {
		return fmt.Errorf("archive.part_size_limit_bytes must be >= 0")
	}
	switch c.Storage.Backend {
	case "gcs", "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for backend %q", c.Storage.Backend)
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Catalog.Enabled && c.Catalog.DSN == "" {
		return fmt.Errorf("catalog.dsn must be set when the catalog is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when a topic is configured")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Runner.Concurrency <= 0 {
		return fmt.Errorf("runner.concurrency must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RetryBackoffInitial returns the initial retry delay as a duration.
func (c Config) RetryBackoffInitial() time.Duration {
	return time.Duration(c.Retry.BackoffInitialMs) * time.Millisecond
}

// RetryBackoffMax returns the retry delay ceiling as a duration.
func (c Config) RetryBackoffMax() time.Duration {
	return time.Duration(c.Retry.BackoffMaxMs) * time.Millisecond
}

// RunDeadline returns the batch-run deadline, zero meaning none.
func (c Config) RunDeadline() time.Duration {
	return time.Duration(c.Runner.DeadlineMinutes) * time.Minute
}
