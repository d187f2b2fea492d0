package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
db:
  provider: postgres
  dsn: postgres://localhost/outreach
outreach:
  parallel_tasks_default: 8
  retry_attempts_default: 4
  error_threshold: 0.4
crawler:
  batch_size: 20
  max_retries: 5
  timeout_seconds: 30
  user_agent: outreach-agent
  cycle_schedule: "@every 10m"
alerting:
  webhook_url: https://hooks.example.com/T000/B000
  channel: "#ops"
  error_rate_threshold: 0.25
sender:
  name: Taro Suzuki
  company: Example Inc.
  product: Example CRM
logging:
  development: false
  level: warn
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.DB.Provider != "postgres" || cfg.DB.DSN == "" {
		t.Fatalf("expected postgres db config to apply")
	}
	if cfg.Outreach.ParallelTasksDefault != 8 || cfg.Outreach.RetryAttemptsDefault != 4 {
		t.Fatalf("expected outreach overrides to apply: %+v", cfg.Outreach)
	}
	if cfg.Crawler.BatchSize != 20 || cfg.Crawler.CycleSchedule != "@every 10m" {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Alerting.ErrorRateThreshold != 0.25 || cfg.Alerting.Channel != "#ops" {
		t.Fatalf("expected alerting overrides to apply: %+v", cfg.Alerting)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides to apply: %+v", cfg.Logging)
	}
	if got := cfg.FetchTimeout(); got != 30*time.Second {
		t.Fatalf("expected fetch timeout 30s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Outreach.ParallelTasksDefault != 5 {
		t.Fatalf("expected default parallel tasks 5, got %d", cfg.Outreach.ParallelTasksDefault)
	}
	if cfg.Crawler.BatchSize != 10 || cfg.Crawler.MaxRetries != 3 {
		t.Fatalf("expected crawler defaults, got %+v", cfg.Crawler)
	}
	if cfg.Alerting.ErrorRateThreshold != 0.2 {
		t.Fatalf("expected alert threshold 0.2, got %f", cfg.Alerting.ErrorRateThreshold)
	}
	if got := cfg.TargetCycleDuration(); got != time.Minute {
		t.Fatalf("expected target cycle 1m, got %v", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero batch size", func(c *Config) { c.Crawler.BatchSize = 0 }},
		{"zero timeout", func(c *Config) { c.Crawler.TimeoutSeconds = 0 }},
		{"threshold above one", func(c *Config) { c.Alerting.ErrorRateThreshold = 1.5 }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }},
		{"postgres without dsn", func(c *Config) { c.DB.Provider = "postgres"; c.DB.DSN = "" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
