package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/models"
	"github.com/good-yellow-bee/toolwatch/internal/registry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "toolwatch.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("TOOLWATCH_HOME", "/var/lib/toolwatch")
	cfg := DefaultConfig()

	if cfg.Database.Path != "/var/lib/toolwatch/toolwatch.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Detection.HistoryLimit != 100 {
		t.Errorf("history limit = %d, want 100", cfg.Detection.HistoryLimit)
	}
	if cfg.Detection.DedupWindow != 7*24*time.Hour {
		t.Errorf("dedup window = %v, want 168h", cfg.Detection.DedupWindow)
	}
	if cfg.Detection.CooldownCeiling != 24*time.Hour {
		t.Errorf("cooldown ceiling = %v, want 24h", cfg.Detection.CooldownCeiling)
	}
	if cfg.Alerts.RecentWindow != 50 {
		t.Errorf("recent window = %d, want 50", cfg.Alerts.RecentWindow)
	}
	if cfg.Alerts.Thresholds != models.DefaultThresholds() {
		t.Errorf("thresholds = %+v", cfg.Alerts.Thresholds)
	}
	if !cfg.Notifications.Console.Enabled || !cfg.Notifications.RateLimit.Enabled {
		t.Error("console channel and rate limit should be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadConfigKeepsDefaultsForMissingFields(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/tw.db
detection:
  dedup_window: 72h
  overrides:
    - id: PERF-002
      enabled: false
alerts:
  thresholds:
    consecutive_failures: 5
    failure_rate_window: 30m
notifications:
  console:
    min_severity: error
  rate_limit:
    max_per_window: 3
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Database.Path != "/tmp/tw.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Detection.DedupWindow != 72*time.Hour {
		t.Errorf("dedup window = %v", cfg.Detection.DedupWindow)
	}
	if len(cfg.Detection.Overrides) != 1 || *cfg.Detection.Overrides[0].Enabled {
		t.Errorf("overrides = %+v", cfg.Detection.Overrides)
	}
	th := cfg.Alerts.Thresholds
	if th.ConsecutiveFailures != 5 || th.FailureRateWindow != 30*time.Minute {
		t.Errorf("thresholds not applied: %+v", th)
	}
	if th.FailureRate != 0.5 || !th.SecretAlerts {
		t.Errorf("unset thresholds should keep defaults: %+v", th)
	}
	if !cfg.Notifications.Console.Enabled || cfg.Notifications.Console.MinSeverity != "error" {
		t.Errorf("console = %+v", cfg.Notifications.Console)
	}
	rl := cfg.Notifications.RateLimit
	if rl.MaxPerWindow != 3 || rl.Window != time.Minute || !rl.Enabled {
		t.Errorf("rate limit = %+v", rl)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadConfig(writeConfig(t, "database: [")); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "bad threshold",
			mutate: func(c *Config) { c.Alerts.Thresholds.FailureRate = 2 },
			errMsg: "alerts.thresholds",
		},
		{
			name:   "unknown severity",
			mutate: func(c *Config) { c.Notifications.GitHub.MinSeverity = "loud" },
			errMsg: "notifications.github.min_severity",
		},
		{
			name: "github without token",
			mutate: func(c *Config) {
				c.Notifications.GitHub.Enabled = true
				c.Notifications.GitHub.Repository = "acme/tools"
			},
			errMsg: "notifications.github",
		},
		{
			name:   "ai without key",
			mutate: func(c *Config) { c.AI.Enabled = true },
			errMsg: "ANTHROPIC_API_KEY",
		},
		{
			name: "invalid override cooldown",
			mutate: func(c *Config) {
				bad := "soon"
				c.Detection.Overrides = append(c.Detection.Overrides, registry.Override{ID: "REL-001", Cooldown: &bad})
			},
			errMsg: "detection.overrides[0]",
		},
		{
			name:   "negative retention",
			mutate: func(c *Config) { c.Retention.Executions = -time.Hour },
			errMsg: "retention",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error %q does not mention %q", err, tt.errMsg)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"TOOLWATCH_DB":           "/data/tw.db",
		"TOOLWATCH_SPOOL":        "/data/spool.jsonl",
		"TOOLWATCH_GITHUB_TOKEN": "ghp_test",
		"TOOLWATCH_AI_ENABLED":   "true",
		"ANTHROPIC_API_KEY":      "sk-fallback",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Database.Path != "/data/tw.db" || cfg.Spool.Path != "/data/spool.jsonl" {
		t.Errorf("paths = %q, %q", cfg.Database.Path, cfg.Spool.Path)
	}
	if cfg.Notifications.GitHub.Token != "ghp_test" {
		t.Errorf("github token = %q", cfg.Notifications.GitHub.Token)
	}
	if !cfg.AI.Enabled || cfg.AI.APIKey != "sk-fallback" {
		t.Errorf("ai = %+v", cfg.AI)
	}

	env["TOOLWATCH_ANTHROPIC_API_KEY"] = "sk-preferred"
	cfg.ApplyEnv(func(k string) string { return env[k] })
	if cfg.AI.APIKey != "sk-preferred" {
		t.Errorf("TOOLWATCH_ANTHROPIC_API_KEY should win, got %q", cfg.AI.APIKey)
	}
}

func TestVersionString(t *testing.T) {
	if !strings.HasPrefix(VersionString(), "toolwatch "+Version) {
		t.Errorf("VersionString() = %q", VersionString())
	}
	info := GetBuildInfo()
	if info.Version != Version || info.GoVersion == "" {
		t.Errorf("build info = %+v", info)
	}
}
