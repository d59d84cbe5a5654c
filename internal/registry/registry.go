// Package registry provides an immutable, ordered catalog of rules.
package registry

import (
	"fmt"
	"time"
)

// Rule is the minimal capability a catalog entry must expose.
type Rule interface {
	RuleID() string
	IsEnabled() bool
}

// Registry holds rules in declaration order. It is read-only after New.
type Registry[R Rule] struct {
	rules []R
	index map[string]int
}

// New builds a registry from rules. Empty or duplicate identifiers are rejected.
func New[R Rule](rules []R) (*Registry[R], error) {
	reg := &Registry[R]{
		rules: make([]R, 0, len(rules)),
		index: make(map[string]int, len(rules)),
	}
	for i, r := range rules {
		id := r.RuleID()
		if id == "" {
			return nil, fmt.Errorf("rule at index %d has no id", i)
		}
		if _, dup := reg.index[id]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", id)
		}
		reg.index[id] = len(reg.rules)
		reg.rules = append(reg.rules, r)
	}
	return reg, nil
}

// Len returns the number of registered rules, enabled or not.
func (r *Registry[R]) Len() int {
	return len(r.rules)
}

// All returns every rule in declaration order.
func (r *Registry[R]) All() []R {
	out := make([]R, len(r.rules))
	copy(out, r.rules)
	return out
}

// ListEnabled returns enabled rules in declaration order.
func (r *Registry[R]) ListEnabled() []R {
	return r.Filter(func(R) bool { return true })
}

// ByID returns the rule with the given id, enabled or not.
func (r *Registry[R]) ByID(id string) (R, bool) {
	i, ok := r.index[id]
	if !ok {
		var zero R
		return zero, false
	}
	return r.rules[i], true
}

// Filter returns the enabled rules matching keep, preserving declaration order.
func (r *Registry[R]) Filter(keep func(R) bool) []R {
	var out []R
	for _, rule := range r.rules {
		if rule.IsEnabled() && keep(rule) {
			out = append(out, rule)
		}
	}
	return out
}

// Override adjusts a built-in rule before its registry is constructed.
type Override struct {
	ID       string  `yaml:"id"`
	Enabled  *bool   `yaml:"enabled,omitempty"`
	Severity string  `yaml:"severity,omitempty"`
	Cooldown *string `yaml:"cooldown,omitempty"`
}

// Validate checks the override fields that can be checked without the rule.
func (o *Override) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("override id is required")
	}
	if o.Cooldown != nil && *o.Cooldown != "" {
		if _, err := time.ParseDuration(*o.Cooldown); err != nil {
			return fmt.Errorf("invalid cooldown %q for rule %q: %w", *o.Cooldown, o.ID, err)
		}
	}
	return nil
}

// CooldownDuration returns the parsed cooldown and whether one was set.
// An explicit empty string or "0" disables the cooldown.
func (o *Override) CooldownDuration() (time.Duration, bool) {
	if o.Cooldown == nil {
		return 0, false
	}
	if *o.Cooldown == "" {
		return 0, true
	}
	d, err := time.ParseDuration(*o.Cooldown)
	if err != nil {
		return 0, false
	}
	return d, true
}

// CheckOverrides reports overrides whose id is not in known.
func CheckOverrides(overrides []Override, known func(id string) bool) error {
	for _, o := range overrides {
		if err := o.Validate(); err != nil {
			return err
		}
		if !known(o.ID) {
			return fmt.Errorf("override references unknown rule %q", o.ID)
		}
	}
	return nil
}
