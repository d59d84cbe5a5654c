package alerting

import (
	"fmt"
	"strconv"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/good-yellow-bee/toolwatch/internal/analytics"
	"github.com/good-yellow-bee/toolwatch/internal/models"
)

// ExprMatcher compiles and evaluates expr-lang expressions against a rule context.
type ExprMatcher struct {
	expression string
	program    *vm.Program
}

// NewExprMatcher creates a new ExprMatcher for the given expression.
func NewExprMatcher(expression string) (*ExprMatcher, error) {
	m := &ExprMatcher{expression: expression}
	if err := m.compile(); err != nil {
		return nil, err
	}
	return m, nil
}

// compile compiles the expression with the expected environment.
func (m *ExprMatcher) compile() error {
	// expr-lang has built-in predicates over arrays:
	// count(executions, .status == "failure") >= 3
	program, err := expr.Compile(m.expression,
		expr.Env(buildSampleEnv()),
		expr.AsBool(),
	)
	if err != nil {
		return fmt.Errorf("compile expression: %w", err)
	}

	m.program = program
	return nil
}

// Match evaluates the expression against a rule context.
func (m *ExprMatcher) Match(rc *RuleContext) (bool, error) {
	result, err := expr.Run(m.program, buildEnv(rc))
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return bool: got %T", result)
	}

	return matched, nil
}

// Predicate adapts the matcher to a rule predicate. Evaluation errors
// panic so the engine records them as rule faults.
func (m *ExprMatcher) Predicate() Predicate {
	return func(rc *RuleContext) bool {
		ok, err := m.Match(rc)
		if err != nil {
			panic(err)
		}
		return ok
	}
}

// Expression returns the original expression string.
func (m *ExprMatcher) Expression() string {
	return m.expression
}

// buildSampleEnv creates a sample environment for expression compilation.
func buildSampleEnv() map[string]any {
	return map[string]any{
		"tool":                 "",
		"project":              "",
		"execution_count":      0,
		"failures":             0,
		"successes":            0,
		"timeouts":             0,
		"consecutive_failures": 0,
		"success_rate":         0.0,
		"average_duration_ms":  0.0,
		"last_duration_ms":     0,
		"last_status":          "",
		"last_error_category":  "",
		"executions":           []map[string]any{},
		"thresholds":           map[string]any{},
	}
}

// buildEnv creates an evaluation environment from a rule context.
func buildEnv(rc *RuleContext) map[string]any {
	env := buildSampleEnv()
	env["tool"] = string(rc.Tool)
	env["project"] = rc.Project
	env["execution_count"] = len(rc.Executions)
	env["consecutive_failures"] = analytics.CountConsecutiveFailures(rc.Executions)
	env["success_rate"] = analytics.SuccessRate(rc.Executions)
	env["average_duration_ms"] = analytics.AverageDuration(rc.Executions)

	failures, successes, timeouts := 0, 0, 0
	execs := make([]map[string]any, 0, len(rc.Executions))
	for _, e := range rc.Executions {
		switch e.Status {
		case models.StatusFailure:
			failures++
		case models.StatusSuccess:
			successes++
		case models.StatusTimeout:
			timeouts++
		}
		execs = append(execs, map[string]any{
			"tool":           string(e.Tool),
			"project":        e.Project,
			"command":        e.Command,
			"status":         string(e.Status),
			"error_category": string(e.ErrorCategory),
			"error_message":  e.ErrorMessage,
			"duration_ms":    e.DurationMs,
			"context":        nonNilMap(e.Context),
			"metadata":       nonNilMap(e.Metadata),
		})
	}
	env["failures"] = failures
	env["successes"] = successes
	env["timeouts"] = timeouts
	env["executions"] = execs

	if latest := rc.Latest(); latest != nil {
		env["last_duration_ms"] = int(latest.DurationMs)
		env["last_status"] = string(latest.Status)
		env["last_error_category"] = string(latest.ErrorCategory)
	}

	t := rc.Thresholds
	env["thresholds"] = map[string]any{
		"consecutive_failures": t.ConsecutiveFailures,
		"failure_rate":         t.FailureRate,
		"duration_multiplier":  t.DurationMultiplier,
		"timeout_ms":           t.Timeout.Milliseconds(),
		"rate_limit_hits":      t.RateLimitHits,
		"git_failures":         t.GitFailures,
		"coverage_drop":        t.CoverageDrop,
		"min_coverage":         t.MinCoverage,
	}
	return env
}

// exprValues exposes the scalar environment entries as message placeholders.
func exprValues(rc *RuleContext) map[string]string {
	env := buildEnv(rc)
	values := make(map[string]string)
	for k, v := range env {
		switch val := v.(type) {
		case string:
			if val != "" {
				values[k] = val
			}
		case int:
			values[k] = strconv.Itoa(val)
		case float64:
			values[k] = strconv.FormatFloat(val, 'f', 2, 64)
		}
	}
	return values
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
