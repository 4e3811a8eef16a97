package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Engine.StartingBalance != 1000 {
		t.Errorf("starting balance = %d, want 1000", cfg.Engine.StartingBalance)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
log_level = "debug"

[server]
port = 9090

[engine]
starting_balance = 500
lock_timeout = "500ms"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Engine.StartingBalance != 500 {
		t.Errorf("starting balance = %d, want 500", cfg.Engine.StartingBalance)
	}
	if cfg.Engine.LockTimeout.Duration != 500*time.Millisecond {
		t.Errorf("lock timeout = %s, want 500ms", cfg.Engine.LockTimeout)
	}
	// Unset fields keep their defaults.
	if cfg.Engine.RetryAttempts != 3 {
		t.Errorf("retry attempts = %d, want default 3", cfg.Engine.RetryAttempts)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PARIPOOL_SERVER_PORT", "7000")
	t.Setenv("PARIPOOL_DATABASE_URL", "postgres://localhost:5432/paripool")
	t.Setenv("PARIPOOL_ENGINE_MAX_PER_STAKE", "250")
	t.Setenv("PARIPOOL_ENGINE_LOCK_TIMEOUT", "1s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://localhost:5432/paripool" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.Engine.MaxPerStake != 250 {
		t.Errorf("max per stake = %d, want 250", cfg.Engine.MaxPerStake)
	}
	if cfg.Engine.LockTimeout.Duration != time.Second {
		t.Errorf("lock timeout = %s, want 1s", cfg.Engine.LockTimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"negative balance", func(c *Config) { c.Engine.StartingBalance = -1 }, "starting_balance"},
		{"zero lock timeout", func(c *Config) { c.Engine.LockTimeout.Duration = 0 }, "lock_timeout"},
		{"zero retries", func(c *Config) { c.Engine.RetryAttempts = 0 }, "retry_attempts"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
