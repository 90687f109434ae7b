// Package config defines the settlement service configuration and its
// validation helpers.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PREDMARKET_* environment
// variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	NATS     NATSConfig     `toml:"nats"`
	Redis    RedisConfig    `toml:"redis"`
	Metrics  MetricsConfig  `toml:"metrics"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds the HTTP API listener parameters.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`
}

// PostgresConfig holds the database connection and settlement log tuning.
type PostgresConfig struct {
	DSN           string   `toml:"dsn"`
	MigrationsDir string   `toml:"migrations_dir"`
	RunMigrations bool     `toml:"run_migrations"`
	LogBatchSize  int      `toml:"log_batch_size"`
	LogFlush      duration `toml:"log_flush"`
}

// NATSConfig holds the outbound event stream parameters.
type NATSConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// RedisConfig holds the read cache parameters.
type RedisConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// MetricsConfig holds the Prometheus listener parameters.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// Defaults returns the built-in configuration, suitable for local runs
// against the in-memory store.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     duration{10 * time.Second},
			WriteTimeout:    duration{10 * time.Second},
			ShutdownTimeout: duration{15 * time.Second},
		},
		Store: StoreConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			MigrationsDir: "migrations",
			RunMigrations: true,
			LogBatchSize:  100,
			LogFlush:      duration{time.Second},
		},
		NATS:     NATSConfig{URL: "nats://localhost:4222"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Metrics:  MetricsConfig{Addr: ":9102"},
		LogLevel: "info",
	}
}

// Validate checks the configuration for contradictions before startup.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("store.backend is postgres but postgres.dsn is empty")
		}
		if c.Postgres.LogBatchSize <= 0 {
			return fmt.Errorf("postgres.log_batch_size must be positive, got %d", c.Postgres.LogBatchSize)
		}
		if c.Postgres.LogFlush.Duration <= 0 {
			return fmt.Errorf("postgres.log_flush must be positive, got %s", c.Postgres.LogFlush.Duration)
		}
	default:
		return fmt.Errorf("unknown store.backend %q (want memory or postgres)", c.Store.Backend)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is empty")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.enabled is set but nats.url is empty")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.enabled is set but redis.addr is empty")
	}
	return nil
}

// duration wraps time.Duration so TOML values can be written as "10s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
