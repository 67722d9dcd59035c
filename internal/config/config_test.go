package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name  string
		check func(*Config) bool
	}{
		{"default mode is scheduler", func(c *Config) bool { return c.Mode == "scheduler" }},
		{"default host is 0.0.0.0", func(c *Config) bool { return c.Host == "0.0.0.0" }},
		{"default port is 8080", func(c *Config) bool { return c.Port == 8080 }},
		{"default log level is info", func(c *Config) bool { return c.LogLevel == "info" }},
		{"default log format is json", func(c *Config) bool { return c.LogFormat == "json" }},
		{"default metrics path", func(c *Config) bool { return c.MetricsPath == "/metrics" }},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" }},
		{"default tick interval", func(c *Config) bool { return c.TickInterval == 10*time.Second }},
		{"default max concurrent checks", func(c *Config) bool { return c.MaxConcurrentChecks == 200 }},
		{"default failure threshold", func(c *Config) bool { return c.FailureThreshold == 3 }},
		{"default dedup window", func(c *Config) bool { return c.DedupWindowMinutes == 15 }},
		{"default retention check results days", func(c *Config) bool { return c.RetentionCheckResultsDays == 30 }},
		{"default retention alerts days", func(c *Config) bool { return c.RetentionAlertsDays == 90 }},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("unexpected config value for %s", tt.name)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PULSECHECK_MODE", "seed")
	t.Setenv("FAILURE_THRESHOLD", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Mode != "seed" {
		t.Errorf("Mode = %q, want seed", cfg.Mode)
	}
	if cfg.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cfg.FailureThreshold)
	}
}
