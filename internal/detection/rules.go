package detection

import (
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/analytics"
	"github.com/good-yellow-bee/toolwatch/internal/models"
)

// BuiltinRules returns a fresh copy of the built-in detection catalog in
// declaration order.
func BuiltinRules() []*Rule {
	return []*Rule{
		{
			ID:              "PERF-001",
			Name:            "Execution time trending upward",
			Description:     "Tool durations have been increasing steadily over recent runs.",
			Type:            models.ImprovementPerformance,
			Severity:        models.SeverityMedium,
			Scope:           models.ScopeTool,
			SuggestedAction: "Profile the tool and look for growing inputs, caches that are no longer hit, or new slow steps.",
			Enabled:         true,
			MinHistory:      5,
			Cooldown:        24 * time.Hour,
			Tags:            []string{"performance", "trend"},
			Condition:       durationTrendingUp,
		},
		{
			ID:              "PERF-002",
			Name:            "Unusually slow execution",
			Description:     "This run took more than three times the tool's average duration.",
			Type:            models.ImprovementPerformance,
			Severity:        models.SeverityLow,
			Scope:           models.ScopeTool,
			SuggestedAction: "Check for resource contention or unusually large inputs in this run.",
			Enabled:         true,
			MinHistory:      5,
			Cooldown:        6 * time.Hour,
			Tags:            []string{"performance", "outlier"},
			Condition:       slowOutlier,
		},
		{
			ID:              "PERF-003",
			Name:            "High token usage",
			Description:     "This run used more than twice the tool's average token count.",
			Type:            models.ImprovementPerformance,
			Severity:        models.SeverityMedium,
			Scope:           models.ScopeTool,
			SuggestedAction: "Trim prompts or context passed to the tool and cache repeated requests.",
			Enabled:         true,
			MinHistory:      5,
			Cooldown:        24 * time.Hour,
			Tags:            []string{"performance", "cost"},
			Condition:       highTokenUsage,
		},
		{
			ID:              "PERF-004",
			Name:            "Excessive API calls",
			Description:     "This run made more than twice the tool's average number of API calls.",
			Type:            models.ImprovementPerformance,
			Severity:        models.SeverityLow,
			Scope:           models.ScopeTool,
			SuggestedAction: "Batch API requests or cache responses between calls.",
			Enabled:         true,
			MinHistory:      5,
			Cooldown:        24 * time.Hour,
			Tags:            []string{"performance", "api"},
			Condition:       excessiveAPICalls,
		},
		{
			ID:              "REL-001",
			Name:            "Low success rate",
			Description:     "The tool succeeds in fewer than 80% of recent runs.",
			Type:            models.ImprovementReliability,
			Severity:        models.SeverityHigh,
			Scope:           models.ScopeTool,
			SuggestedAction: "Review recent failures for a common cause and add retries or input validation.",
			Enabled:         true,
			MinHistory:      10,
			Cooldown:        12 * time.Hour,
			Tags:            []string{"reliability"},
			Condition:       lowSuccessRate,
		},
		{
			ID:              "REL-002",
			Name:            "Recurring error",
			Description:     "The same error category keeps recurring for this tool.",
			Type:            models.ImprovementReliability,
			Severity:        models.SeverityMedium,
			Scope:           models.ScopeTool,
			SuggestedAction: "Fix the root cause of the recurring error instead of re-running.",
			Enabled:         true,
			MinHistory:      3,
			Cooldown:        6 * time.Hour,
			Tags:            []string{"reliability", "errors"},
			Condition:       recurringError,
		},
		{
			ID:              "REL-003",
			Name:            "Frequent timeouts",
			Description:     "The tool has timed out repeatedly in recent runs.",
			Type:            models.ImprovementReliability,
			Severity:        models.SeverityHigh,
			Scope:           models.ScopeTool,
			SuggestedAction: "Raise the timeout or split the work into smaller steps.",
			Enabled:         true,
			MinHistory:      5,
			Cooldown:        12 * time.Hour,
			Tags:            []string{"reliability", "timeout"},
			Condition:       frequentTimeouts,
		},
		{
			ID:              "REL-004",
			Name:            "Success rate dropping",
			Description:     "The success rate of the last 10 runs dropped sharply compared to the 10 before.",
			Type:            models.ImprovementReliability,
			Severity:        models.SeverityHigh,
			Scope:           models.ScopeTool,
			SuggestedAction: "Look for a recent change in the tool, its configuration or its dependencies.",
			Enabled:         true,
			MinHistory:      20,
			Cooldown:        24 * time.Hour,
			Tags:            []string{"reliability", "trend"},
			Condition:       successRateDropping,
		},
		{
			ID:              "SEC-001",
			Name:            "Secret exposed in output",
			Description:     "Error output or captured tool output appears to contain a credential.",
			Type:            models.ImprovementSecurity,
			Severity:        models.SeverityUrgent,
			Scope:           models.ScopeBoth,
			SuggestedAction: "Rotate the exposed credential and mask secrets in tool output.",
			Enabled:         true,
			MinHistory:      0,
			Cooldown:        time.Hour,
			Tags:            []string{"security", "secrets"},
			Condition:       secretInOutput,
		},
		{
			ID:              "SEC-002",
			Name:            "Repeated permission errors",
			Description:     "Several runs in this project failed with permission denied.",
			Type:            models.ImprovementSecurity,
			Severity:        models.SeverityHigh,
			Scope:           models.ScopeLifecycle,
			SuggestedAction: "Audit file and credential permissions used by the project's tooling.",
			Enabled:         true,
			MinHistory:      2,
			History:         HistoryProject,
			Cooldown:        24 * time.Hour,
			Tags:            []string{"security", "permissions"},
			Condition:       repeatedPermissionErrors,
		},
		{
			ID:              "USE-001",
			Name:            "Frequent cancellations",
			Description:     "Runs of this tool are often cancelled before completing.",
			Type:            models.ImprovementUsability,
			Severity:        models.SeverityLow,
			Scope:           models.ScopeTool,
			SuggestedAction: "Make the tool faster to give feedback or easier to configure before running.",
			Enabled:         true,
			MinHistory:      5,
			Cooldown:        24 * time.Hour,
			Tags:            []string{"usability"},
			Condition:       frequentCancellations,
		},
		{
			ID:              "DOC-001",
			Name:            "Configuration confusion",
			Description:     "Validation and configuration errors keep occurring for this tool.",
			Type:            models.ImprovementDocumentation,
			Severity:        models.SeverityMedium,
			Scope:           models.ScopeTool,
			SuggestedAction: "Document the tool's required configuration and add examples.",
			Enabled:         true,
			MinHistory:      3,
			Cooldown:        48 * time.Hour,
			Tags:            []string{"documentation", "configuration"},
			Condition:       configurationConfusion,
		},
		{
			ID:              "INT-001",
			Name:            "Cascading tool failures",
			Description:     "Another tool failed in the same project shortly before this failure.",
			Type:            models.ImprovementIntegration,
			Severity:        models.SeverityHigh,
			Scope:           models.ScopeLifecycle,
			SuggestedAction: "Check whether the tools share inputs and fail fast on the first failure.",
			Enabled:         true,
			MinHistory:      2,
			History:         HistoryProject,
			Cooldown:        6 * time.Hour,
			Tags:            []string{"integration", "lifecycle"},
			Condition:       cascadingFailures,
		},
		{
			ID:              "INT-002",
			Name:            "Shared dependency problems",
			Description:     "Dependency errors are occurring across several projects.",
			Type:            models.ImprovementIntegration,
			Severity:        models.SeverityMedium,
			Scope:           models.ScopeBoth,
			SuggestedAction: "Pin or mirror the failing dependency and check the package registry status.",
			Enabled:         true,
			MinHistory:      2,
			History:         HistoryAll,
			Cooldown:        24 * time.Hour,
			Tags:            []string{"integration", "dependencies"},
			Condition:       sharedDependencyErrors,
		},
		{
			ID:              "FEAT-001",
			Name:            "Retry loop",
			Description:     "The same command was re-run several times in quick succession.",
			Type:            models.ImprovementFeature,
			Severity:        models.SeverityLow,
			Scope:           models.ScopeTool,
			SuggestedAction: "Add a built-in retry or watch mode so the command does not need manual re-runs.",
			Enabled:         true,
			MinHistory:      3,
			Cooldown:        48 * time.Hour,
			Tags:            []string{"feature", "workflow"},
			Condition:       retryLoop,
		},
	}
}

// Window sizes used by the built-in rules.
const (
	trendSamples      = 10
	recentRuns        = 20
	recurrenceRuns    = 10
	cascadeWindow     = 10 * time.Minute
	retryWindow       = 5 * time.Minute
	minRetryRuns      = 3
	minOccurrences    = 3
	minSuccessRate    = 0.8
	successRateDrop   = 0.2
	outlierMultiplier = 3.0
	usageMultiplier   = 2.0
	minAPICalls       = 10
)

// withCurrent returns the current execution followed by up to n history entries.
func withCurrent(in *Input, history []*models.Execution, n int) []*models.Execution {
	if n > len(history) {
		n = len(history)
	}
	out := make([]*models.Execution, 0, n+1)
	out = append(out, in.Execution)
	return append(out, history[:n]...)
}

func countWhere(execs []*models.Execution, pred func(*models.Execution) bool) int {
	n := 0
	for _, e := range execs {
		if pred(e) {
			n++
		}
	}
	return n
}

// contextAverage averages a numeric context key over executions that carry it.
func contextAverage(execs []*models.Execution, key string) (float64, bool) {
	var sum float64
	n := 0
	for _, e := range execs {
		if v, ok := e.ContextNumber(key); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func durationTrendingUp(in *Input) Result {
	recent := withCurrent(in, in.ToolHistory, trendSamples)
	series := analytics.Chronological(recent)
	if !analytics.IsIncreasingTrend(series, analytics.DefaultTrendThreshold) {
		return NotTriggered
	}
	return Trigger(0.75, "duration rose to %dms over %d runs (slope %.0fms/run)",
		in.Execution.DurationMs, len(series), analytics.Slope(series))
}

func slowOutlier(in *Input) Result {
	avg := analytics.AverageDuration(in.ToolHistory)
	if avg <= 0 || float64(in.Execution.DurationMs) <= avg*outlierMultiplier {
		return NotTriggered
	}
	return Trigger(0.8, "took %dms, %.0f%% slower than the %.0fms average",
		in.Execution.DurationMs, analytics.Degradation(float64(in.Execution.DurationMs), avg), avg)
}

func highTokenUsage(in *Input) Result {
	tokens, ok := in.Execution.ContextNumber(models.ContextTokensUsed)
	if !ok {
		return NotTriggered
	}
	avg, ok := contextAverage(in.ToolHistory, models.ContextTokensUsed)
	if !ok || avg <= 0 || tokens <= avg*usageMultiplier {
		return NotTriggered
	}
	return Trigger(0.75, "used %.0f tokens against a %.0f average", tokens, avg)
}

func excessiveAPICalls(in *Input) Result {
	calls, ok := in.Execution.ContextNumber(models.ContextAPICalls)
	if !ok || calls <= minAPICalls {
		return NotTriggered
	}
	avg, ok := contextAverage(in.ToolHistory, models.ContextAPICalls)
	if !ok || avg <= 0 || calls <= avg*usageMultiplier {
		return NotTriggered
	}
	return Trigger(DefaultConfidence, "made %.0f API calls against a %.0f average", calls, avg)
}

func lowSuccessRate(in *Input) Result {
	all := withCurrent(in, in.ToolHistory, len(in.ToolHistory))
	rate := analytics.SuccessRate(all)
	if rate >= minSuccessRate {
		return NotTriggered
	}
	return Trigger(0.85, "success rate %.0f%% over %d runs", rate*100, len(all))
}

func recurringError(in *Input) Result {
	if !in.Execution.Failed() || in.Execution.ErrorCategory == "" {
		return NotTriggered
	}
	category := in.Execution.ErrorCategory
	recent := withCurrent(in, in.ToolHistory, recurrenceRuns-1)
	n := countWhere(recent, func(e *models.Execution) bool {
		return e.Failed() && e.ErrorCategory == category
	})
	if n < minOccurrences {
		return NotTriggered
	}
	return Trigger(0.8, "%s errors in %d of the last %d runs", category, n, len(recent))
}

func frequentTimeouts(in *Input) Result {
	recent := withCurrent(in, in.ToolHistory, recentRuns)
	n := countWhere(recent, func(e *models.Execution) bool {
		return e.Status == models.StatusTimeout || e.ErrorCategory == models.ErrorTimeout
	})
	if n < minOccurrences {
		return NotTriggered
	}
	return Trigger(0.8, "%d timeouts in the last %d runs", n, len(recent))
}

func successRateDropping(in *Input) Result {
	all := withCurrent(in, in.ToolHistory, 2*recurrenceRuns-1)
	if len(all) < 2*recurrenceRuns {
		return NotTriggered
	}
	recent := analytics.SuccessRate(all[:recurrenceRuns])
	previous := analytics.SuccessRate(all[recurrenceRuns:])
	if previous-recent < successRateDrop {
		return NotTriggered
	}
	return Trigger(0.8, "success rate fell from %.0f%% to %.0f%%", previous*100, recent*100)
}

func secretInOutput(in *Input) Result {
	e := in.Execution
	for _, field := range []interface{}{e.ErrorMessage, e.ErrorStack, e.Metadata[models.MetadataOutput]} {
		if analytics.ContainsSecret(field) {
			return Trigger(0.9, "possible credential in output of %q", e.Command)
		}
	}
	return NotTriggered
}

func repeatedPermissionErrors(in *Input) Result {
	all := withCurrent(in, in.ProjectHistory, len(in.ProjectHistory))
	n := countWhere(all, func(e *models.Execution) bool {
		return e.ErrorCategory == models.ErrorPermissionDenied
	})
	if n < 2 {
		return NotTriggered
	}
	return Trigger(0.8, "%d permission denied errors in project %s", n, in.Execution.Project)
}

func frequentCancellations(in *Input) Result {
	recent := withCurrent(in, in.ToolHistory, recentRuns)
	n := countWhere(recent, func(e *models.Execution) bool { return e.Status == models.StatusCancelled })
	if n < minOccurrences {
		return NotTriggered
	}
	return Trigger(DefaultConfidence, "%d cancellations in the last %d runs", n, len(recent))
}

func configurationConfusion(in *Input) Result {
	recent := withCurrent(in, in.ToolHistory, recentRuns)
	n := countWhere(recent, func(e *models.Execution) bool {
		return e.ErrorCategory == models.ErrorValidation || e.ErrorCategory == models.ErrorConfiguration
	})
	if n < minOccurrences {
		return NotTriggered
	}
	return Trigger(0.75, "%d validation or configuration errors in the last %d runs", n, len(recent))
}

func cascadingFailures(in *Input) Result {
	cur := in.Execution
	if !cur.Failed() {
		return NotTriggered
	}
	var failedTools []models.Tool
	seen := make(map[models.Tool]bool)
	for _, e := range in.ProjectHistory {
		if e.Tool == cur.Tool || !e.Failed() || seen[e.Tool] {
			continue
		}
		gap := cur.Timestamp.Sub(e.Timestamp)
		if gap < 0 {
			gap = -gap
		}
		if gap <= cascadeWindow {
			seen[e.Tool] = true
			failedTools = append(failedTools, e.Tool)
		}
	}
	if len(failedTools) == 0 {
		return NotTriggered
	}
	return Trigger(0.75, "%s failed within %s of %v failing in %s", cur.Tool, cascadeWindow, failedTools, cur.Project)
}

func sharedDependencyErrors(in *Input) Result {
	all := withCurrent(in, in.AllHistory, len(in.AllHistory))
	projects := make(map[string]bool)
	for _, e := range all {
		if e.ErrorCategory == models.ErrorDependency {
			projects[e.Project] = true
		}
	}
	if len(projects) < 2 {
		return NotTriggered
	}
	return Trigger(0.8, "dependency errors in %d projects", len(projects))
}

func retryLoop(in *Input) Result {
	cur := in.Execution
	runs := 1
	for _, e := range in.ToolHistory {
		if e.Command != cur.Command || e.Project != cur.Project {
			break
		}
		if cur.Timestamp.Sub(e.Timestamp) > retryWindow {
			break
		}
		runs++
	}
	if runs < minRetryRuns {
		return NotTriggered
	}
	return Trigger(DefaultConfidence, "%q ran %d times within %s", cur.Command, runs, retryWindow)
}
