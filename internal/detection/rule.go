// Package detection evaluates detection rules against new executions and
// their history to suggest tool and process improvements.
package detection

import (
	"fmt"
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/models"
	"github.com/good-yellow-bee/toolwatch/internal/registry"
)

// DefaultConfidence is assigned to triggers that do not report a confidence.
const DefaultConfidence = 0.7

// Result is the outcome of one rule condition.
type Result struct {
	Triggered  bool
	Confidence float64
	Context    string
}

// NotTriggered is the zero result.
var NotTriggered = Result{}

// Trigger returns a triggered result with the given confidence and context.
func Trigger(confidence float64, format string, args ...interface{}) Result {
	return Result{Triggered: true, Confidence: confidence, Context: fmt.Sprintf(format, args...)}
}

// Input is the read-only data a condition inspects. History slices are
// most recent first and never contain Execution itself.
type Input struct {
	Execution      *models.Execution
	ToolHistory    []*models.Execution
	ProjectHistory []*models.Execution
	AllHistory     []*models.Execution
}

// Condition decides whether a rule fires for an input. It must not mutate
// the input.
type Condition func(in *Input) Result

// HistoryScope selects which history slice MinHistory is checked against.
type HistoryScope string

const (
	HistoryTool    HistoryScope = "tool"
	HistoryProject HistoryScope = "project"
	HistoryAll     HistoryScope = "all"
)

// Rule is a detection rule: a condition plus improvement metadata.
type Rule struct {
	ID              string
	Name            string
	Description     string
	Type            models.ImprovementType
	Severity        models.Severity
	Scope           models.Scope
	SuggestedAction string
	Enabled         bool
	MinHistory      int
	History         HistoryScope
	Cooldown        time.Duration
	Tags            []string
	Condition       Condition
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
	if !r.Type.IsValid() {
		return fmt.Errorf("invalid improvement type %q for rule %q", r.Type, r.ID)
	}
	if r.MinHistory < 0 {
		return fmt.Errorf("min history must not be negative for rule %q", r.ID)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative for rule %q", r.ID)
	}
	return nil
}

// history returns the slice MinHistory applies to.
func (r *Rule) history(in *Input) []*models.Execution {
	switch r.History {
	case HistoryProject:
		return in.ProjectHistory
	case HistoryAll:
		return in.AllHistory
	default:
		return in.ToolHistory
	}
}

// Registry is the immutable catalog of detection rules.
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

// ByType returns enabled rules of the given improvement type.
func (r *Registry) ByType(t models.ImprovementType) []*Rule {
	return r.Filter(func(rule *Rule) bool { return rule.Type == t })
}

// BySeverity returns enabled rules with the given severity.
func (r *Registry) BySeverity(s models.Severity) []*Rule {
	return r.Filter(func(rule *Rule) bool { return rule.Severity == s })
}

// ByTag returns enabled rules carrying tag.
func (r *Registry) ByTag(tag string) []*Rule {
	return r.Filter(func(rule *Rule) bool {
		for _, t := range rule.Tags {
			if t == tag {
				return true
			}
		}
		return false
	})
}

// LongestCooldown returns the largest cooldown among all rules.
func (r *Registry) LongestCooldown() time.Duration {
	var longest time.Duration
	for _, rule := range r.All() {
		if rule.Cooldown > longest {
			longest = rule.Cooldown
		}
	}
	return longest
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
			sev, ok := models.LookupSeverity(o.Severity)
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
