// Package config defines the settlement engine's configuration and provides
// validation helpers. Fields are populated from a TOML file and then
// optionally overridden by PARIPOOL_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Engine   EngineConfig   `toml:"engine"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	CORSOrigins     []string `toml:"cors_origins"`
}

// DatabaseConfig holds PostgreSQL connection parameters. An empty URL
// selects the in-memory store.
type DatabaseConfig struct {
	URL           string `toml:"url"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis cache parameters. An empty URL disables caching.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL duration `toml:"cache_ttl"`
}

// EngineConfig holds settlement engine tunables.
type EngineConfig struct {
	StartingBalance int64    `toml:"starting_balance"`
	MaxPerStake     int64    `toml:"max_per_stake"`
	MaxPerMarket    int64    `toml:"max_per_market"`
	LockTimeout     duration `toml:"lock_timeout"`
	RetryAttempts   int      `toml:"retry_attempts"`
	RetryBackoff    duration `toml:"retry_backoff"`
}

// duration wraps time.Duration so the TOML decoder can parse strings
// like "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     duration{15 * time.Second},
			WriteTimeout:    duration{15 * time.Second},
			ShutdownTimeout: duration{10 * time.Second},
			CORSOrigins:     []string{"http://localhost:3000"},
		},
		Database: DatabaseConfig{
			URL:           "",
			PoolMaxConns:  10,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			URL:      "",
			CacheTTL: duration{30 * time.Second},
		},
		Engine: EngineConfig{
			StartingBalance: 1000,
			MaxPerStake:     0,
			MaxPerMarket:    0,
			LockTimeout:     duration{2 * time.Second},
			RetryAttempts:   3,
			RetryBackoff:    duration{25 * time.Millisecond},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.URL != "" && c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Engine.StartingBalance < 0 {
		errs = append(errs, "engine: starting_balance must be >= 0")
	}
	if c.Engine.MaxPerStake < 0 {
		errs = append(errs, "engine: max_per_stake must be >= 0 (0 disables)")
	}
	if c.Engine.MaxPerMarket < 0 {
		errs = append(errs, "engine: max_per_market must be >= 0 (0 disables)")
	}
	if c.Engine.LockTimeout.Duration <= 0 {
		errs = append(errs, "engine: lock_timeout must be positive")
	}
	if c.Engine.RetryAttempts < 1 {
		errs = append(errs, "engine: retry_attempts must be >= 1")
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
