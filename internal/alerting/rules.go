package alerting

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/analytics"
	"github.com/good-yellow-bee/toolwatch/internal/models"
)

const (
	// minRateSamples is the fewest executions a failure rate is judged on.
	minRateSamples = 5
	// minBaselineSamples is the fewest prior executions a duration baseline uses.
	minBaselineSamples = 3
	// rateLimitClearRuns is how many recent runs must be free of rate limiting to resolve.
	rateLimitClearRuns = 5
)

var protectedBranches = map[string]bool{"main": true, "master": true, "production": true}

// BuiltinRules returns the built-in alert rule catalog in declaration order.
// Each call returns fresh values so overrides never leak between callers.
func BuiltinRules() []*Rule {
	return []*Rule{
		{
			ID:          "ALERT-REL-001",
			Name:        "Consecutive failures",
			Description: "A tool failed several times in a row.",
			Enabled:     true,
			Category:    models.CategoryReliability,
			Severity:    models.AlertCritical,
			Cooldown:    30 * time.Minute,
			Message:     "{{tool}} failed {{count}} times in a row in {{project}} (threshold {{threshold}})",
			Condition:   consecutiveFailures,
			AutoResolve: latestSucceeded,
			Values: func(rc *RuleContext) map[string]string {
				return map[string]string{
					"count":     strconv.Itoa(analytics.CountConsecutiveFailures(rc.Executions)),
					"threshold": strconv.Itoa(rc.Thresholds.ConsecutiveFailures),
				}
			},
			Related: func(rc *RuleContext) []*models.Execution {
				return rc.Executions[:analytics.CountConsecutiveFailures(rc.Executions)]
			},
		},
		{
			ID:          "ALERT-REL-002",
			Name:        "High failure rate",
			Description: "The share of failed executions in the recent window is above the limit.",
			Enabled:     true,
			Category:    models.CategoryReliability,
			Severity:    models.AlertError,
			Cooldown:    time.Hour,
			Message:     "Failure rate is {{rate}} over the last {{window}} ({{count}} of {{total}} runs, threshold {{threshold}})",
			Condition:   highFailureRate,
			AutoResolve: func(rc *RuleContext) bool { return failureRatio(rc.Since(rc.Thresholds.FailureRateWindow)) < rc.Thresholds.FailureRate },
			Values: func(rc *RuleContext) map[string]string {
				window := rc.Since(rc.Thresholds.FailureRateWindow)
				return map[string]string{
					"rate":      formatPercent(failureRatio(window)),
					"count":     strconv.Itoa(len(filter(window, (*models.Execution).Failed))),
					"total":     strconv.Itoa(len(window)),
					"window":    rc.Thresholds.FailureRateWindow.String(),
					"threshold": formatPercent(rc.Thresholds.FailureRate),
				}
			},
			Related: func(rc *RuleContext) []*models.Execution {
				return filter(rc.Since(rc.Thresholds.FailureRateWindow), (*models.Execution).Failed)
			},
		},
		{
			ID:          "ALERT-REL-003",
			Name:        "Execution timeout",
			Description: "The most recent execution timed out or ran past the timeout limit.",
			Enabled:     true,
			Category:    models.CategoryReliability,
			Severity:    models.AlertWarning,
			Cooldown:    15 * time.Minute,
			Message:     "{{tool}} ran for {{lastDuration}} in {{project}} (limit {{threshold}})",
			Condition:   latestTimedOut,
			AutoResolve: func(rc *RuleContext) bool { return rc.Latest() != nil && !latestTimedOut(rc) },
			Values: func(rc *RuleContext) map[string]string {
				return map[string]string{"threshold": rc.Thresholds.Timeout.String()}
			},
		},
		{
			ID:          "ALERT-PERF-001",
			Name:        "Slow execution",
			Description: "The most recent execution took much longer than the recent average.",
			Enabled:     true,
			Category:    models.CategoryPerformance,
			Severity:    models.AlertWarning,
			Cooldown:    time.Hour,
			Message:     "{{tool}} took {{lastDuration}}, {{degradation}} slower than the {{average}} average",
			Condition:   slowExecution,
			AutoResolve: func(rc *RuleContext) bool { return rc.Latest() != nil && !slowExecution(rc) },
			Values: func(rc *RuleContext) map[string]string {
				baseline := durationBaseline(rc)
				var current float64
				if latest := rc.Latest(); latest != nil {
					current = float64(latest.DurationMs)
				}
				return map[string]string{
					"average":     formatMs(baseline),
					"degradation": fmt.Sprintf("%.0f%%", analytics.Degradation(current, baseline)),
					"threshold":   fmt.Sprintf("%.1fx", rc.Thresholds.DurationMultiplier),
				}
			},
		},
		{
			ID:          "ALERT-API-001",
			Name:        "API rate limiting",
			Description: "Executions are repeatedly hitting API rate limits.",
			Enabled:     true,
			Category:    models.CategoryAPI,
			Severity:    models.AlertError,
			Cooldown:    time.Hour,
			Message:     "{{count}} executions hit API rate limits (threshold {{threshold}})",
			Condition: func(rc *RuleContext) bool {
				return len(filter(rc.Executions, rateLimited)) >= rc.Thresholds.RateLimitHits
			},
			AutoResolve: func(rc *RuleContext) bool {
				recent := rc.Executions
				if len(recent) > rateLimitClearRuns {
					recent = recent[:rateLimitClearRuns]
				}
				return len(filter(recent, rateLimited)) == 0
			},
			Values: func(rc *RuleContext) map[string]string {
				return map[string]string{
					"count":     strconv.Itoa(len(filter(rc.Executions, rateLimited))),
					"threshold": strconv.Itoa(rc.Thresholds.RateLimitHits),
				}
			},
			Related: func(rc *RuleContext) []*models.Execution { return filter(rc.Executions, rateLimited) },
		},
		{
			ID:          "ALERT-API-002",
			Name:        "API authentication failure",
			Description: "The most recent execution failed to authenticate against an API.",
			Enabled:     true,
			Category:    models.CategoryAPI,
			Severity:    models.AlertCritical,
			Cooldown:    30 * time.Minute,
			Message:     "{{tool}} failed API authentication in {{project}}: {{error}}",
			Condition: func(rc *RuleContext) bool {
				latest := rc.Latest()
				return latest != nil && latest.Failed() && latest.ErrorCategory == models.ErrorAPIAuth
			},
			AutoResolve: latestSucceeded,
			Values: func(rc *RuleContext) map[string]string {
				if latest := rc.Latest(); latest != nil {
					return map[string]string{"error": latest.ErrorMessage}
				}
				return nil
			},
		},
		{
			ID:          "ALERT-SEC-001",
			Name:        "Secret exposed in output",
			Description: "Execution output or errors contain something that looks like a credential.",
			Enabled:     true,
			Category:    models.CategorySecurity,
			Severity:    models.AlertCritical,
			Message:     "Possible secret exposed in output of {{count}} executions; rotate the credential",
			Condition: func(rc *RuleContext) bool {
				return rc.Thresholds.SecretAlerts && len(filter(rc.Executions, exposesSecret)) > 0
			},
			Values: func(rc *RuleContext) map[string]string {
				return map[string]string{"count": strconv.Itoa(len(filter(rc.Executions, exposesSecret)))}
			},
			Related: func(rc *RuleContext) []*models.Execution { return filter(rc.Executions, exposesSecret) },
		},
		{
			ID:          "ALERT-SEC-002",
			Name:        "Permission denied",
			Description: "Executions were refused access to files, repositories or APIs.",
			Enabled:     true,
			Category:    models.CategorySecurity,
			Severity:    models.AlertError,
			Cooldown:    time.Hour,
			Message:     "{{count}} executions failed with permission denied",
			Condition: func(rc *RuleContext) bool {
				return rc.Thresholds.PermissionAlerts && len(filter(rc.Executions, permissionDenied)) > 0
			},
			AutoResolve: func(rc *RuleContext) bool { return len(filter(rc.Executions, permissionDenied)) == 0 },
			Values: func(rc *RuleContext) map[string]string {
				return map[string]string{"count": strconv.Itoa(len(filter(rc.Executions, permissionDenied)))}
			},
			Related: func(rc *RuleContext) []*models.Execution { return filter(rc.Executions, permissionDenied) },
		},
		{
			ID:          "ALERT-GIT-001",
			Name:        "Repeated git failures",
			Description: "Git operations keep failing.",
			Enabled:     true,
			Category:    models.CategoryGit,
			Severity:    models.AlertError,
			Cooldown:    time.Hour,
			Message:     "{{count}} git failures in the last {{window}} (threshold {{threshold}})",
			Condition: func(rc *RuleContext) bool {
				return len(gitFailures(rc)) >= rc.Thresholds.GitFailures
			},
			AutoResolve: func(rc *RuleContext) bool { return len(gitFailures(rc)) < rc.Thresholds.GitFailures },
			Values: func(rc *RuleContext) map[string]string {
				return map[string]string{
					"count":     strconv.Itoa(len(gitFailures(rc))),
					"window":    rc.Thresholds.GitFailureWindow.String(),
					"threshold": strconv.Itoa(rc.Thresholds.GitFailures),
				}
			},
			Related: gitFailures,
		},
		{
			ID:          "ALERT-GIT-002",
			Name:        "Push to protected branch",
			Description: "A push went directly to a protected branch.",
			Enabled:     true,
			Category:    models.CategoryGit,
			Severity:    models.AlertWarning,
			Message:     "Direct push to {{branch}} in {{project}}",
			Condition: func(rc *RuleContext) bool {
				return rc.Thresholds.BranchPushAlerts && len(filter(rc.Executions, protectedPush)) > 0
			},
			Values: func(rc *RuleContext) map[string]string {
				pushes := filter(rc.Executions, protectedPush)
				if len(pushes) == 0 {
					return nil
				}
				return map[string]string{
					"branch":  pushes[0].ContextString(models.ContextGitBranch),
					"project": pushes[0].Project,
				}
			},
			Related: func(rc *RuleContext) []*models.Execution { return filter(rc.Executions, protectedPush) },
		},
		{
			ID:          "ALERT-QUAL-001",
			Name:        "Coverage dropped",
			Description: "Test coverage fell noticeably since the previous run.",
			Enabled:     true,
			Category:    models.CategoryQuality,
			Severity:    models.AlertWarning,
			Cooldown:    6 * time.Hour,
			Message:     "Coverage dropped from {{previous}} to {{coverage}} in {{project}}",
			Condition:   coverageDropped,
			AutoResolve: func(rc *RuleContext) bool { return len(coverageSamples(rc.Executions)) >= 2 && !coverageDropped(rc) },
			Values: func(rc *RuleContext) map[string]string {
				samples := coverageSamples(rc.Executions)
				if len(samples) < 2 {
					return nil
				}
				return map[string]string{
					"coverage":  formatPercent(samples[0].value),
					"previous":  formatPercent(samples[1].value),
					"threshold": formatPercent(rc.Thresholds.CoverageDrop),
				}
			},
			Related: func(rc *RuleContext) []*models.Execution {
				samples := coverageSamples(rc.Executions)
				if len(samples) > 2 {
					samples = samples[:2]
				}
				return sampleExecutions(samples)
			},
		},
		{
			ID:          "ALERT-QUAL-002",
			Name:        "Coverage below minimum",
			Description: "Test coverage is under the configured minimum.",
			Enabled:     true,
			Category:    models.CategoryQuality,
			Severity:    models.AlertWarning,
			Cooldown:    6 * time.Hour,
			Message:     "Coverage is {{coverage}} in {{project}}, below the {{threshold}} minimum",
			Condition: func(rc *RuleContext) bool {
				samples := coverageSamples(rc.Executions)
				return len(samples) > 0 && samples[0].value < rc.Thresholds.MinCoverage
			},
			AutoResolve: func(rc *RuleContext) bool {
				samples := coverageSamples(rc.Executions)
				return len(samples) > 0 && samples[0].value >= rc.Thresholds.MinCoverage
			},
			Values: func(rc *RuleContext) map[string]string {
				values := map[string]string{"threshold": formatPercent(rc.Thresholds.MinCoverage)}
				if samples := coverageSamples(rc.Executions); len(samples) > 0 {
					values["coverage"] = formatPercent(samples[0].value)
				}
				return values
			},
			Related: func(rc *RuleContext) []*models.Execution {
				samples := coverageSamples(rc.Executions)
				if len(samples) > 1 {
					samples = samples[:1]
				}
				return sampleExecutions(samples)
			},
		},
	}
}

func consecutiveFailures(rc *RuleContext) bool {
	return analytics.CountConsecutiveFailures(rc.Executions) >= rc.Thresholds.ConsecutiveFailures
}

func latestSucceeded(rc *RuleContext) bool {
	latest := rc.Latest()
	return latest != nil && latest.Succeeded()
}

func highFailureRate(rc *RuleContext) bool {
	window := rc.Since(rc.Thresholds.FailureRateWindow)
	if len(window) < minRateSamples {
		return false
	}
	return atLeast(failureRatio(window), rc.Thresholds.FailureRate)
}

func failureRatio(execs []*models.Execution) float64 {
	if len(execs) == 0 {
		return 0
	}
	return float64(len(filter(execs, (*models.Execution).Failed))) / float64(len(execs))
}

func latestTimedOut(rc *RuleContext) bool {
	latest := rc.Latest()
	if latest == nil {
		return false
	}
	return latest.Status == models.StatusTimeout || latest.Duration() > rc.Thresholds.Timeout
}

// durationBaseline averages the executions before the latest one, falling
// back to the snapshot average when there are too few of them.
func durationBaseline(rc *RuleContext) float64 {
	if len(rc.Executions) > minBaselineSamples {
		return analytics.AverageDuration(rc.Executions[1:])
	}
	if g := rc.Group(); g != nil {
		return g.AverageDurationMs
	}
	return 0
}

func slowExecution(rc *RuleContext) bool {
	latest := rc.Latest()
	if latest == nil {
		return false
	}
	baseline := durationBaseline(rc)
	if baseline <= 0 {
		return false
	}
	return float64(latest.DurationMs) > baseline*rc.Thresholds.DurationMultiplier
}

func rateLimited(e *models.Execution) bool {
	return e.ErrorCategory == models.ErrorAPIRateLimit
}

func exposesSecret(e *models.Execution) bool {
	return analytics.ContainsSecret(e.Output()) ||
		analytics.ContainsSecret(e.ErrorMessage) ||
		analytics.ContainsSecret(e.ErrorStack)
}

func permissionDenied(e *models.Execution) bool {
	return e.ErrorCategory == models.ErrorPermissionDenied
}

func gitFailures(rc *RuleContext) []*models.Execution {
	return filter(rc.Since(rc.Thresholds.GitFailureWindow), func(e *models.Execution) bool {
		return e.Failed() && e.ErrorCategory == models.ErrorGit
	})
}

func protectedPush(e *models.Execution) bool {
	if e.Tool != models.ToolGit || !e.Succeeded() {
		return false
	}
	if !strings.Contains(strings.ToLower(e.Command), "push") {
		return false
	}
	return protectedBranches[strings.ToLower(e.ContextString(models.ContextGitBranch))]
}

type coverageSample struct {
	exec  *models.Execution
	value float64
}

// coverageSamples returns executions reporting coverage, most recent first,
// with percentages normalized to ratios.
func coverageSamples(execs []*models.Execution) []coverageSample {
	var samples []coverageSample
	for _, e := range execs {
		v, ok := e.MetadataNumber(models.MetadataCoverage)
		if !ok {
			continue
		}
		if v > 1 {
			v /= 100
		}
		samples = append(samples, coverageSample{exec: e, value: v})
	}
	return samples
}

func coverageDropped(rc *RuleContext) bool {
	samples := coverageSamples(rc.Executions)
	if len(samples) < 2 {
		return false
	}
	return atLeast(samples[1].value-samples[0].value, rc.Thresholds.CoverageDrop)
}

func sampleExecutions(samples []coverageSample) []*models.Execution {
	out := make([]*models.Execution, len(samples))
	for i, s := range samples {
		out[i] = s.exec
	}
	return out
}

func filter(execs []*models.Execution, keep func(*models.Execution) bool) []*models.Execution {
	var out []*models.Execution
	for _, e := range execs {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
