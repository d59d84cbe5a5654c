package models

import (
	"fmt"
	"time"
)

// GroupMetrics aggregates executions for one tool or project.
type GroupMetrics struct {
	Total             int     `json:"total"`
	Successes         int     `json:"successes"`
	Failures          int     `json:"failures"`
	Timeouts          int     `json:"timeouts"`
	Cancelled         int     `json:"cancelled"`
	SuccessRate       float64 `json:"success_rate"`
	AverageDurationMs float64 `json:"average_duration_ms"`
}

// MetricsSnapshot is an aggregate view of executions over a period.
type MetricsSnapshot struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	GroupMetrics
	ByTool    map[Tool]*GroupMetrics   `json:"by_tool"`
	ByProject map[string]*GroupMetrics `json:"by_project"`
}

// NewMetricsSnapshot creates an empty snapshot with initialized maps.
func NewMetricsSnapshot(start, end time.Time) *MetricsSnapshot {
	return &MetricsSnapshot{
		PeriodStart:  start,
		PeriodEnd:    end,
		GroupMetrics: GroupMetrics{SuccessRate: 1.0},
		ByTool:       make(map[Tool]*GroupMetrics),
		ByProject:    make(map[string]*GroupMetrics),
	}
}

// Thresholds parameterizes alert rule conditions.
type Thresholds struct {
	ConsecutiveFailures int           `yaml:"consecutive_failures" json:"consecutive_failures"`
	FailureRate         float64       `yaml:"failure_rate" json:"failure_rate"`
	FailureRateWindow   time.Duration `yaml:"failure_rate_window" json:"failure_rate_window"`
	DurationMultiplier  float64       `yaml:"duration_multiplier" json:"duration_multiplier"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	RateLimitHits       int           `yaml:"rate_limit_hits" json:"rate_limit_hits"`
	GitFailures         int           `yaml:"git_failures" json:"git_failures"`
	GitFailureWindow    time.Duration `yaml:"git_failure_window" json:"git_failure_window"`
	CoverageDrop        float64       `yaml:"coverage_drop" json:"coverage_drop"`
	MinCoverage         float64       `yaml:"min_coverage" json:"min_coverage"`
	SecretAlerts        bool          `yaml:"secret_alerts" json:"secret_alerts"`
	PermissionAlerts    bool          `yaml:"permission_alerts" json:"permission_alerts"`
	BranchPushAlerts    bool          `yaml:"branch_push_alerts" json:"branch_push_alerts"`
}

// DefaultThresholds returns the default alert thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ConsecutiveFailures: 3,
		FailureRate:         0.5,
		FailureRateWindow:   time.Hour,
		DurationMultiplier:  2.0,
		Timeout:             5 * time.Minute,
		RateLimitHits:       5,
		GitFailures:         3,
		GitFailureWindow:    time.Hour,
		CoverageDrop:        0.05,
		MinCoverage:         0.7,
		SecretAlerts:        true,
		PermissionAlerts:    true,
		BranchPushAlerts:    true,
	}
}

// Validate checks threshold ranges.
func (t Thresholds) Validate() error {
	if t.ConsecutiveFailures <= 0 {
		return fmt.Errorf("consecutive_failures must be positive (got %d)", t.ConsecutiveFailures)
	}
	if t.FailureRate <= 0 || t.FailureRate > 1 {
		return fmt.Errorf("failure_rate must be in (0, 1] (got %.2f)", t.FailureRate)
	}
	if t.FailureRateWindow <= 0 {
		return fmt.Errorf("failure_rate_window must be positive (got %v)", t.FailureRateWindow)
	}
	if t.DurationMultiplier <= 1 {
		return fmt.Errorf("duration_multiplier must be greater than 1 (got %.2f)", t.DurationMultiplier)
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %v)", t.Timeout)
	}
	if t.RateLimitHits <= 0 {
		return fmt.Errorf("rate_limit_hits must be positive (got %d)", t.RateLimitHits)
	}
	if t.GitFailures <= 0 {
		return fmt.Errorf("git_failures must be positive (got %d)", t.GitFailures)
	}
	if t.GitFailureWindow <= 0 {
		return fmt.Errorf("git_failure_window must be positive (got %v)", t.GitFailureWindow)
	}
	if t.CoverageDrop < 0 || t.CoverageDrop > 1 {
		return fmt.Errorf("coverage_drop must be in [0, 1] (got %.2f)", t.CoverageDrop)
	}
	if t.MinCoverage < 0 || t.MinCoverage > 1 {
		return fmt.Errorf("min_coverage must be in [0, 1] (got %.2f)", t.MinCoverage)
	}
	return nil
}
