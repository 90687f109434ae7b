package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDMARKET_* environment variable overrides,
// and returns the final Config. An empty path skips the file and uses
// defaults plus overrides. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known PREDMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.Addr, "PREDMARKET_SERVER_ADDR")
	setDuration(&cfg.Server.ReadTimeout, "PREDMARKET_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "PREDMARKET_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "PREDMARKET_SERVER_SHUTDOWN_TIMEOUT")

	setStr(&cfg.Store.Backend, "PREDMARKET_STORE_BACKEND")

	setStr(&cfg.Postgres.DSN, "PREDMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.MigrationsDir, "PREDMARKET_POSTGRES_MIGRATIONS_DIR")
	setBool(&cfg.Postgres.RunMigrations, "PREDMARKET_POSTGRES_RUN_MIGRATIONS")
	setInt(&cfg.Postgres.LogBatchSize, "PREDMARKET_POSTGRES_LOG_BATCH_SIZE")
	setDuration(&cfg.Postgres.LogFlush, "PREDMARKET_POSTGRES_LOG_FLUSH")

	setBool(&cfg.NATS.Enabled, "PREDMARKET_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "PREDMARKET_NATS_URL")

	setBool(&cfg.Redis.Enabled, "PREDMARKET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDMARKET_REDIS_ADDR")

	setStr(&cfg.Metrics.Addr, "PREDMARKET_METRICS_ADDR")

	setStr(&cfg.LogLevel, "PREDMARKET_LOG_LEVEL")
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
