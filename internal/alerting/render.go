package alerting

import (
	"fmt"
	"regexp"
	"strconv"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Render substitutes {{name}} placeholders with values. Unknown placeholders
// are left verbatim.
func Render(template string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := placeholderPattern.FindStringSubmatch(token)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return token
	})
}

// baseValues are the placeholders every rule can use.
func baseValues(rc *RuleContext) map[string]string {
	values := map[string]string{
		"tool":           string(rc.Tool),
		"project":        rc.Project,
		"executionCount": strconv.Itoa(len(rc.Executions)),
		"lastDuration":   "0ms",
	}
	if latest := rc.Latest(); latest != nil {
		values["lastDuration"] = formatMs(float64(latest.DurationMs))
		if rc.Tool == "" {
			values["tool"] = string(latest.Tool)
		}
		if rc.Project == "" {
			values["project"] = latest.Project
		}
	}
	return values
}

// messageValues merges the base values with the rule's own.
func messageValues(rule *Rule, rc *RuleContext) map[string]string {
	values := baseValues(rc)
	if rule.Values != nil {
		for k, v := range rule.Values(rc) {
			values[k] = v
		}
	}
	return values
}

func formatMs(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.1fs", ms/1000)
	}
	return fmt.Sprintf("%.0fms", ms)
}

func formatPercent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}
