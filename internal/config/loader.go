package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges a TOML configuration file at path (skipped when path is
// empty) on top of the built-in defaults, then applies PARIPOOL_*
// environment variable overrides. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PARIPOOL_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject connection strings at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "PARIPOOL_SERVER_PORT")
	setDuration(&cfg.Server.ReadTimeout, "PARIPOOL_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "PARIPOOL_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "PARIPOOL_SERVER_SHUTDOWN_TIMEOUT")
	setStringSlice(&cfg.Server.CORSOrigins, "PARIPOOL_SERVER_CORS_ORIGINS")

	setStr(&cfg.Database.URL, "PARIPOOL_DATABASE_URL")
	setStr(&cfg.Database.URL, "DATABASE_URL") // compatibility alias
	setInt(&cfg.Database.PoolMaxConns, "PARIPOOL_DATABASE_POOL_MAX_CONNS")
	setBool(&cfg.Database.RunMigrations, "PARIPOOL_DATABASE_RUN_MIGRATIONS")

	setStr(&cfg.Redis.URL, "PARIPOOL_REDIS_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL") // compatibility alias
	setDuration(&cfg.Redis.CacheTTL, "PARIPOOL_REDIS_CACHE_TTL")

	setInt64(&cfg.Engine.StartingBalance, "PARIPOOL_ENGINE_STARTING_BALANCE")
	setInt64(&cfg.Engine.MaxPerStake, "PARIPOOL_ENGINE_MAX_PER_STAKE")
	setInt64(&cfg.Engine.MaxPerMarket, "PARIPOOL_ENGINE_MAX_PER_MARKET")
	setDuration(&cfg.Engine.LockTimeout, "PARIPOOL_ENGINE_LOCK_TIMEOUT")
	setInt(&cfg.Engine.RetryAttempts, "PARIPOOL_ENGINE_RETRY_ATTEMPTS")
	setDuration(&cfg.Engine.RetryBackoff, "PARIPOOL_ENGINE_RETRY_BACKOFF")

	setStr(&cfg.LogLevel, "PARIPOOL_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
