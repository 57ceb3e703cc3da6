package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SETTLD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and uses defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SETTLD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Postgres.DSN, "SETTLD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SETTLD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SETTLD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SETTLD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SETTLD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SETTLD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SETTLD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SETTLD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SETTLD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SETTLD_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "SETTLD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SETTLD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SETTLD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SETTLD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SETTLD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SETTLD_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "SETTLD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SETTLD_S3_REGION")
	setStr(&cfg.S3.Bucket, "SETTLD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SETTLD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SETTLD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SETTLD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SETTLD_S3_FORCE_PATH_STYLE")

	setInt(&cfg.Server.Port, "SETTLD_SERVER_PORT")
	setInt(&cfg.Server.RateLimit, "SETTLD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SETTLD_SERVER_RATE_WINDOW")

	setInt(&cfg.Engine.MaxAttempts, "SETTLD_ENGINE_MAX_ATTEMPTS")
	setDuration(&cfg.Engine.RedemptionPoll, "SETTLD_ENGINE_REDEMPTION_POLL")

	setBool(&cfg.Archive.Enabled, "SETTLD_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "SETTLD_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "SETTLD_ARCHIVE_RETENTION")

	setStr(&cfg.Mode, "SETTLD_MODE")
	setStr(&cfg.LogLevel, "SETTLD_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
