package alerting

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/toolwatch/internal/models"
	"github.com/good-yellow-bee/toolwatch/internal/registry"
)

// RuleConfig is a custom alert rule defined in YAML. Condition and
// AutoResolve are expr-lang expressions.
type RuleConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Category    string `yaml:"category"`
	Severity    string `yaml:"severity,omitempty"`
	Cooldown    string `yaml:"cooldown,omitempty"`
	Message     string `yaml:"message"`
	Condition   string `yaml:"condition"`
	AutoResolve string `yaml:"auto_resolve,omitempty"`
	Enabled     *bool  `yaml:"enabled,omitempty"`
}

// RulesConfig represents the top-level YAML rules file.
type RulesConfig struct {
	// Overrides adjust built-in rules.
	Overrides []registry.Override `yaml:"overrides,omitempty"`
	// Rules are custom rules appended after the built-in catalog.
	Rules []RuleConfig `yaml:"rules,omitempty"`
}

// Build compiles a custom rule.
func (c *RuleConfig) Build() (*Rule, error) {
	if c.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	category, ok := models.ParseAlertCategory(c.Category)
	if !ok {
		return nil, fmt.Errorf("invalid category %q for rule %q", c.Category, c.ID)
	}
	if c.Condition == "" {
		return nil, fmt.Errorf("condition is required for rule %q", c.ID)
	}
	severity := models.AlertWarning
	if c.Severity != "" {
		if severity, ok = models.LookupAlertSeverity(c.Severity); !ok {
			return nil, fmt.Errorf("invalid severity %q for rule %q", c.Severity, c.ID)
		}
	}

	rule := &Rule{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Enabled:     c.Enabled == nil || *c.Enabled,
		Category:    category,
		Severity:    severity,
		Message:     c.Message,
		Values:      exprValues,
	}
	if rule.Message == "" {
		rule.Message = rule.Title()
	}

	if c.Cooldown != "" {
		d, err := time.ParseDuration(c.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("invalid cooldown %q for rule %q: %w", c.Cooldown, c.ID, err)
		}
		rule.Cooldown = d
	}

	cond, err := NewExprMatcher(c.Condition)
	if err != nil {
		return nil, fmt.Errorf("invalid condition for rule %q: %w", c.ID, err)
	}
	rule.Condition = cond.Predicate()

	if c.AutoResolve != "" {
		resolve, err := NewExprMatcher(c.AutoResolve)
		if err != nil {
			return nil, fmt.Errorf("invalid auto_resolve for rule %q: %w", c.ID, err)
		}
		rule.AutoResolve = resolve.Predicate()
	}
	return rule, nil
}

// Apply applies overrides to builtin and appends the custom rules,
// returning the full catalog ready for NewRegistry.
func (c *RulesConfig) Apply(builtin []*Rule) ([]*Rule, error) {
	if err := ApplyOverrides(builtin, c.Overrides); err != nil {
		return nil, err
	}
	rules := append([]*Rule(nil), builtin...)
	for i := range c.Rules {
		rule, err := c.Rules[i].Build()
		if err != nil {
			return nil, fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRulesFromFile loads alert rule configuration from a YAML file.
func LoadRulesFromFile(path string) (*RulesConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	return LoadRules(f)
}

// LoadRules loads alert rule configuration from a reader.
func LoadRules(r io.Reader) (*RulesConfig, error) {
	var config RulesConfig
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	return &config, nil
}

// LoadRulesFromBytes loads alert rule configuration from YAML bytes.
func LoadRulesFromBytes(data []byte) (*RulesConfig, error) {
	var config RulesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	return &config, nil
}

// LoadRegistry builds the alert registry from the built-in catalog and an
// optional rules file.
func LoadRegistry(path string) (*Registry, error) {
	rules := BuiltinRules()
	if path != "" {
		config, err := LoadRulesFromFile(path)
		if err != nil {
			return nil, err
		}
		if rules, err = config.Apply(rules); err != nil {
			return nil, err
		}
	}
	return NewRegistry(rules)
}
