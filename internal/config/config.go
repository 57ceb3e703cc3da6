// Package config defines the top-level configuration for the settlement
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SETTLD_* environment
// variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Engine   EngineConfig   `toml:"engine"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters. A non-empty DSN
// wins over the discrete fields.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the trade
// archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters. RateLimit is the per-caller
// request budget per RateWindow; zero disables limiting.
type ServerConfig struct {
	Port       int      `toml:"port"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// EngineConfig holds settlement coordinator parameters.
type EngineConfig struct {
	// MaxAttempts bounds optimistic-concurrency retries per order.
	MaxAttempts int `toml:"max_attempts"`

	// RedemptionPoll is the interval at which the retry worker drains the
	// failed-redemption stream.
	RedemptionPoll duration `toml:"redemption_poll"`
}

// ArchiveConfig holds trade archival parameters.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	Retention duration `toml:"retention"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":  true, // HTTP API against Postgres + Redis
	"paper":  true, // full engine on the in-memory store, no external deps
	"worker": true, // background redemption retry + trade archival
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "settld",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "settld-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:       8080,
			RateLimit:  20,
			RateWindow: duration{time.Second},
		},
		Engine: EngineConfig{
			MaxAttempts:    5,
			RedemptionPoll: duration{5 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Interval:  duration{time.Hour},
			Retention: duration{30 * 24 * time.Hour},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency and reports
// every problem found, not just the first.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, paper, worker)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	needsBackends := c.Mode == "serve" || c.Mode == "worker"
	if needsBackends {
		if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
			errs = append(errs, "postgres: either dsn or host/database/user must be set for mode "+c.Mode)
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty for mode "+c.Mode)
		}
	}

	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, fmt.Sprintf("postgres: pool_min_conns (%d) exceeds pool_max_conns (%d)",
			c.Postgres.PoolMinConns, c.Postgres.PoolMaxConns))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be positive when rate_limit is set")
	}

	if c.Engine.MaxAttempts < 1 {
		errs = append(errs, "engine: max_attempts must be at least 1")
	}
	if c.Engine.RedemptionPoll.Duration <= 0 {
		errs = append(errs, "engine: redemption_poll must be positive")
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must be set when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must be set when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
