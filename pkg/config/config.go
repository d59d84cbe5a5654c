package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/toolwatch/internal/models"
	"github.com/good-yellow-bee/toolwatch/internal/notifier"
	"github.com/good-yellow-bee/toolwatch/internal/registry"
)

// Config represents the toolwatch configuration.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Spool         SpoolConfig         `yaml:"spool"`
	Detection     DetectionConfig     `yaml:"detection"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Notifications NotificationsConfig `yaml:"notifications"`
	AI            AIConfig            `yaml:"ai"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Retention     RetentionConfig     `yaml:"retention"`
	Verbose       bool                `yaml:"-"` // set via CLI flag
}

// DatabaseConfig contains storage settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite file (default: ~/.toolwatch/toolwatch.db)
}

// SpoolConfig contains the execution spool settings used by watch.
type SpoolConfig struct {
	Path         string        `yaml:"path"`          // JSONL spool (default: ~/.toolwatch/executions.jsonl)
	FromEnd      bool          `yaml:"from_end"`      // skip lines present at startup
	PollInterval time.Duration `yaml:"poll_interval"` // default: 250ms
}

// DetectionConfig contains detection engine settings.
type DetectionConfig struct {
	HistoryLimit    int                 `yaml:"history_limit"`    // default: 100
	DedupWindow     time.Duration       `yaml:"dedup_window"`     // default: 168h
	CooldownCeiling time.Duration       `yaml:"cooldown_ceiling"` // default: 24h
	Durable         bool                `yaml:"durable_cooldowns"`
	Overrides       []registry.Override `yaml:"overrides"`
}

// AlertsConfig contains alert engine settings.
type AlertsConfig struct {
	RulesFile     string            `yaml:"rules_file"`     // optional overrides and custom rules
	RecentWindow  int               `yaml:"recent_window"`  // executions per check (default: 50)
	CheckInterval time.Duration     `yaml:"check_interval"` // watch re-check period (default: 1m)
	Thresholds    models.Thresholds `yaml:"thresholds"`
}

// ChannelConfig enables a notification channel.
type ChannelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MinSeverity string `yaml:"min_severity"` // info, warning, error, critical
}

// FileChannelConfig configures the JSONL alert log channel.
type FileChannelConfig struct {
	ChannelConfig `yaml:",inline"`
	Path          string `yaml:"path"`
}

// GitHubChannelConfig configures the GitHub issue channel.
type GitHubChannelConfig struct {
	ChannelConfig         `yaml:",inline"`
	notifier.GitHubConfig `yaml:",inline"`
}

// NotificationsConfig contains notification channel settings.
type NotificationsConfig struct {
	Console   ChannelConfig            `yaml:"console"`
	File      FileChannelConfig        `yaml:"file"`
	GitHub    GitHubChannelConfig      `yaml:"github"`
	RateLimit notifier.RateLimitConfig `yaml:"rate_limit"`
}

// AIConfig contains optional AI analyzer settings. The API key is read
// from the environment only.
type AIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Model        string        `yaml:"model"`
	MaxTokens    int           `yaml:"max_tokens"`
	OnlyFailures bool          `yaml:"only_failures"`
	Timeout      time.Duration `yaml:"timeout"`
	APIKey       string        `yaml:"-"`
}

// MetricsConfig contains metrics export settings.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // node-exporter textfile path; empty disables
}

// RetentionConfig bounds how long raw records are kept. Zero keeps forever.
type RetentionConfig struct {
	Executions time.Duration `yaml:"executions"`
	Cooldowns  time.Duration `yaml:"cooldowns"`
}

// LoadConfig loads configuration from a YAML file. Fields missing from the
// file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()
	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Load returns the configuration at path, or the defaults with environment
// overrides when path is empty.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadConfig(path)
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		Detection: DetectionConfig{Durable: true},
		Alerts:    AlertsConfig{Thresholds: models.DefaultThresholds()},
		Notifications: NotificationsConfig{
			Console:   ChannelConfig{Enabled: true},
			RateLimit: notifier.DefaultRateLimitConfig(),
		},
		AI: AIConfig{OnlyFailures: true},
	}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(dataDir(), "toolwatch.db")
	}
	if c.Spool.Path == "" {
		c.Spool.Path = filepath.Join(dataDir(), "executions.jsonl")
	}
	if c.Spool.PollInterval == 0 {
		c.Spool.PollInterval = 250 * time.Millisecond
	}
	if c.Detection.HistoryLimit == 0 {
		c.Detection.HistoryLimit = 100
	}
	if c.Detection.DedupWindow == 0 {
		c.Detection.DedupWindow = 7 * 24 * time.Hour
	}
	if c.Detection.CooldownCeiling == 0 {
		c.Detection.CooldownCeiling = 24 * time.Hour
	}
	if c.Alerts.RecentWindow == 0 {
		c.Alerts.RecentWindow = 50
	}
	if c.Alerts.CheckInterval == 0 {
		c.Alerts.CheckInterval = time.Minute
	}
	if c.Notifications.File.Path == "" {
		c.Notifications.File.Path = filepath.Join(dataDir(), "alerts.jsonl")
	}
	if c.AI.MaxTokens == 0 {
		c.AI.MaxTokens = 2048
	}
	if c.AI.Timeout == 0 {
		c.AI.Timeout = 30 * time.Second
	}
}

// ApplyEnv overrides settings from TOOLWATCH_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("TOOLWATCH_DB"); v != "" {
		c.Database.Path = v
	}
	if v := getenv("TOOLWATCH_SPOOL"); v != "" {
		c.Spool.Path = v
	}
	if v := getenv("TOOLWATCH_ALERT_RULES"); v != "" {
		c.Alerts.RulesFile = v
	}
	if v := getenv("TOOLWATCH_METRICS_TEXTFILE"); v != "" {
		c.Metrics.Textfile = v
	}
	if v := getenv("TOOLWATCH_GITHUB_TOKEN"); v != "" {
		c.Notifications.GitHub.Token = v
	}
	if v := getenv("TOOLWATCH_AI_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AI.Enabled = b
		}
	}
	if v := getenv("TOOLWATCH_ANTHROPIC_API_KEY"); v != "" {
		c.AI.APIKey = v
	} else if v := getenv("ANTHROPIC_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Detection.HistoryLimit < 0 {
		return fmt.Errorf("detection.history_limit must not be negative")
	}
	if c.Detection.DedupWindow < 0 || c.Detection.CooldownCeiling < 0 {
		return fmt.Errorf("detection durations must not be negative")
	}
	for i := range c.Detection.Overrides {
		if err := c.Detection.Overrides[i].Validate(); err != nil {
			return fmt.Errorf("detection.overrides[%d]: %w", i, err)
		}
	}
	if c.Alerts.RecentWindow < 0 {
		return fmt.Errorf("alerts.recent_window must not be negative")
	}
	if err := c.Alerts.Thresholds.Validate(); err != nil {
		return fmt.Errorf("alerts.thresholds: %w", err)
	}
	for name, ch := range map[string]ChannelConfig{
		"console": c.Notifications.Console,
		"file":    c.Notifications.File.ChannelConfig,
		"github":  c.Notifications.GitHub.ChannelConfig,
	} {
		if err := validateSeverity(ch.MinSeverity); err != nil {
			return fmt.Errorf("notifications.%s.min_severity: %w", name, err)
		}
	}
	if c.Notifications.File.Enabled && c.Notifications.File.Path == "" {
		return fmt.Errorf("notifications.file.path is required when the file channel is enabled")
	}
	if c.Notifications.GitHub.Enabled {
		if err := c.Notifications.GitHub.GitHubConfig.Validate(); err != nil {
			return fmt.Errorf("notifications.github: %w", err)
		}
	}
	if c.AI.Enabled && c.AI.APIKey == "" {
		return fmt.Errorf("ai.enabled requires ANTHROPIC_API_KEY")
	}
	if c.Retention.Executions < 0 || c.Retention.Cooldowns < 0 {
		return fmt.Errorf("retention durations must not be negative")
	}
	return nil
}

func validateSeverity(s string) error {
	switch models.AlertSeverity(s) {
	case "", models.AlertInfo, models.AlertWarning, models.AlertError, models.AlertCritical:
		return nil
	}
	return fmt.Errorf("unknown severity %q", s)
}

func dataDir() string {
	if dir := os.Getenv("TOOLWATCH_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".toolwatch"
	}
	return filepath.Join(home, ".toolwatch")
}
