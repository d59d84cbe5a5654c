// Package alerting evaluates alert rules against recent executions and an
// aggregate metrics snapshot, and manages the lifecycle of the alerts they
// raise: cooldowns, templated messages, suppression and auto-resolution.
package alerting

import (
	"fmt"
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/models"
	"github.com/good-yellow-bee/toolwatch/internal/registry"
)

// RuleContext is the input bundle for one alert rule evaluation.
type RuleContext struct {
	// Executions are the recent executions, most recent first.
	Executions []*models.Execution
	Metrics    *models.MetricsSnapshot
	Thresholds models.Thresholds
	// Tool and Project are set when the evaluation is scoped.
	Tool    models.Tool
	Project string
	Now     time.Time
}

// Latest returns the most recent execution, or nil.
func (rc *RuleContext) Latest() *models.Execution {
	if len(rc.Executions) == 0 {
		return nil
	}
	return rc.Executions[0]
}

// Since returns the executions at or after now-d, most recent first.
func (rc *RuleContext) Since(d time.Duration) []*models.Execution {
	cutoff := rc.Now.Add(-d)
	var out []*models.Execution
	for _, e := range rc.Executions {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Group returns the snapshot metrics matching the context scope. Tool takes
// precedence over project; an unscoped context gets the overall totals.
func (rc *RuleContext) Group() *models.GroupMetrics {
	if rc.Metrics == nil {
		return nil
	}
	if rc.Tool != "" {
		if g, ok := rc.Metrics.ByTool[rc.Tool]; ok {
			return g
		}
	}
	if rc.Project != "" {
		if g, ok := rc.Metrics.ByProject[rc.Project]; ok {
			return g
		}
	}
	return &rc.Metrics.GroupMetrics
}

// Predicate is an alert condition or auto-resolve check. It must not mutate
// the context.
type Predicate func(rc *RuleContext) bool

// ValuesFunc computes rule-specific message placeholder values.
type ValuesFunc func(rc *RuleContext) map[string]string

// RelatedFunc selects the executions an alert refers to.
type RelatedFunc func(rc *RuleContext) []*models.Execution

// Rule is an alert rule: a predicate plus alert metadata.
type Rule struct {
	ID          string
	Name        string
	Description string
	Enabled     bool
	Category    models.AlertCategory
	Severity    models.AlertSeverity
	// Cooldown of zero never suppresses re-triggering.
	Cooldown time.Duration
	// Message is rendered with {{placeholder}} substitution.
	Message     string
	Condition   Predicate
	AutoResolve Predicate
	Values      ValuesFunc
	// Related defaults to the most recent execution.
	Related RelatedFunc
}

// RuleID implements registry.Rule.
func (r *Rule) RuleID() string { return r.ID }

// IsEnabled implements registry.Rule.
func (r *Rule) IsEnabled() bool { return r.Enabled }

// Validate checks the rule definition.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Condition == nil {
		return fmt.Errorf("condition is required for rule %q", r.ID)
	}
	if _, ok := models.ParseAlertCategory(string(r.Category)); !ok {
		return fmt.Errorf("invalid category %q for rule %q", r.Category, r.ID)
	}
	if r.Severity.Rank() == 0 {
		return fmt.Errorf("invalid severity %q for rule %q", r.Severity, r.ID)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative for rule %q", r.ID)
	}
	if r.Message == "" {
		return fmt.Errorf("message is required for rule %q", r.ID)
	}
	return nil
}

// Title returns the alert title for the rule.
func (r *Rule) Title() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// related returns the related executions for rc.
func (r *Rule) related(rc *RuleContext) []*models.Execution {
	if r.Related != nil {
		return r.Related(rc)
	}
	if latest := rc.Latest(); latest != nil {
		return []*models.Execution{latest}
	}
	return nil
}

// Registry is the immutable catalog of alert rules.
type Registry struct {
	*registry.Registry[*Rule]
}

// NewRegistry validates rules and builds a registry in declaration order.
func NewRegistry(rules []*Rule) (*Registry, error) {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	reg, err := registry.New(rules)
	if err != nil {
		return nil, err
	}
	return &Registry{Registry: reg}, nil
}

// ByCategory returns enabled rules in the given category.
func (r *Registry) ByCategory(c models.AlertCategory) []*Rule {
	return r.Filter(func(rule *Rule) bool { return rule.Category == c })
}

// BySeverity returns enabled rules with the given severity.
func (r *Registry) BySeverity(s models.AlertSeverity) []*Rule {
	return r.Filter(func(rule *Rule) bool { return rule.Severity == s })
}

// ApplyOverrides adjusts rules in place. It must run before NewRegistry.
func ApplyOverrides(rules []*Rule, overrides []registry.Override) error {
	byID := make(map[string]*Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}
	if err := registry.CheckOverrides(overrides, func(id string) bool { return byID[id] != nil }); err != nil {
		return err
	}
	for _, o := range overrides {
		r := byID[o.ID]
		if o.Enabled != nil {
			r.Enabled = *o.Enabled
		}
		if o.Severity != "" {
			sev, ok := models.LookupAlertSeverity(o.Severity)
			if !ok {
				return fmt.Errorf("invalid severity %q for rule %q", o.Severity, o.ID)
			}
			r.Severity = sev
		}
		if d, ok := o.CooldownDuration(); ok {
			r.Cooldown = d
		}
	}
	return nil
}
