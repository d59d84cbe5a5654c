package detection

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/metrics"
	"github.com/good-yellow-bee/toolwatch/internal/models"
	"github.com/good-yellow-bee/toolwatch/internal/storage"
)

// DefaultDedupWindow is how far back open improvements are checked for duplicates.
const DefaultDedupWindow = 7 * 24 * time.Hour

// Triggered is a rule or analyzer finding for one execution, before
// deduplication and persistence.
type Triggered struct {
	RuleID          string
	Type            models.ImprovementType
	Severity        models.Severity
	Scope           models.Scope
	Title           string
	Description     string
	SuggestedAction string
	Method          models.DetectionMethod
	ExecutionID     string
	Confidence      float64
	Context         string
	Tools           []models.Tool
	Projects        []string
}

// ruleToken is embedded in the detection context so later runs can find
// improvements raised by the same rule.
func ruleToken(ruleID string) string {
	return "[rule:" + ruleID + "]"
}

// DetectionContext returns the persisted detection context string.
func (t *Triggered) DetectionContext() string {
	if t.Context == "" {
		return ruleToken(t.RuleID)
	}
	return ruleToken(t.RuleID) + " " + t.Context
}

// Improvement converts the trigger into a record ready for storage.
func (t *Triggered) Improvement() *models.Improvement {
	return &models.Improvement{
		Type:             t.Type,
		Severity:         t.Severity,
		Scope:            t.Scope,
		Title:            t.Title,
		Description:      t.Description,
		SuggestedAction:  t.SuggestedAction,
		AffectedTools:    t.Tools,
		AffectedProjects: t.Projects,
		DetectionMethod:  t.Method,
		DetectionContext: t.DetectionContext(),
		Confidence:       t.Confidence,
		ExecutionID:      t.ExecutionID,
		Status:           models.ImprovementOpen,
	}
}

// isDuplicateOf reports whether imp already covers this trigger: it is
// active, detected within window, carries the same rule id and shares at
// least one tool and one project.
func (t *Triggered) isDuplicateOf(imp *models.Improvement, since time.Time) bool {
	if !imp.Status.IsActive() || imp.DetectedAt.Before(since) {
		return false
	}
	if !strings.Contains(imp.DetectionContext, ruleToken(t.RuleID)) {
		return false
	}
	sharesTool := false
	for _, tool := range t.Tools {
		if imp.AffectsTool(tool) {
			sharesTool = true
			break
		}
	}
	if !sharesTool {
		return false
	}
	for _, p := range t.Projects {
		if imp.AffectsProject(p) {
			return true
		}
	}
	return false
}

func clampConfidence(c float64) float64 {
	switch {
	case c <= 0:
		return DefaultConfidence
	case c > 1:
		return 1
	default:
		return c
	}
}

// Finding is an improvement proposed by an Analyzer.
type Finding struct {
	Key             string
	Type            models.ImprovementType
	Severity        models.Severity
	Scope           models.Scope
	Title           string
	Description     string
	SuggestedAction string
	Confidence      float64
}

// Analyzer is an optional best-effort source of findings, such as an AI model.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, in *Input) ([]Finding, error)
}

// EngineOptions configures the detection engine.
type EngineOptions struct {
	// HistoryLimit bounds each history slice.
	HistoryLimit int
	// DedupWindow bounds how old an open improvement may be to count as a duplicate.
	DedupWindow time.Duration
	// Analyzer is consulted after rules for every execution in RunBatch.
	Analyzer Analyzer
	// Now returns the current time.
	Now func() time.Time
}

// DefaultEngineOptions returns default engine options.
func DefaultEngineOptions() *EngineOptions {
	return &EngineOptions{
		HistoryLimit: 100,
		DedupWindow:  DefaultDedupWindow,
		Now:          time.Now,
	}
}

// Engine evaluates detection rules. Rules run strictly in registry order.
type Engine struct {
	rules        *Registry
	executions   storage.ExecutionRepository
	improvements storage.ImprovementRepository
	cooldowns    *CooldownTracker
	opts         *EngineOptions
}

// NewEngine creates a detection engine. A nil tracker gets an in-memory one.
func NewEngine(rules *Registry, executions storage.ExecutionRepository, improvements storage.ImprovementRepository,
	cooldowns *CooldownTracker, opts *EngineOptions) *Engine {
	defaults := DefaultEngineOptions()
	if opts == nil {
		opts = defaults
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaults.HistoryLimit
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaults.DedupWindow
	}
	if opts.Now == nil {
		opts.Now = defaults.Now
	}
	if cooldowns == nil {
		cooldowns = NewCooldownTracker(&CooldownOptions{Now: opts.Now})
	}
	cooldowns.EnsureCeiling(rules.LongestCooldown())

	return &Engine{
		rules:        rules,
		executions:   executions,
		improvements: improvements,
		cooldowns:    cooldowns,
		opts:         opts,
	}
}

// Rules returns the engine's registry.
func (e *Engine) Rules() *Registry {
	return e.rules
}

// Evaluate runs every enabled rule against exec and returns the triggers.
// Rule faults are logged and skipped; only history lookup errors are returned.
func (e *Engine) Evaluate(ctx context.Context, exec *models.Execution) ([]*Triggered, error) {
	in, err := e.buildInput(ctx, exec)
	if err != nil {
		return nil, err
	}
	triggers, _ := e.evaluate(ctx, in, false)
	return triggers, nil
}

func (e *Engine) buildInput(ctx context.Context, exec *models.Execution) (*Input, error) {
	base := storage.ExecutionFilter{
		Until:     exec.Timestamp,
		ExcludeID: exec.ID,
		Limit:     e.opts.HistoryLimit,
	}

	toolFilter := base
	toolFilter.Tool = exec.Tool
	toolHistory, err := e.executions.Query(ctx, toolFilter)
	if err != nil {
		return nil, fmt.Errorf("query tool history: %w", err)
	}

	projectFilter := base
	projectFilter.Project = exec.Project
	projectHistory, err := e.executions.Query(ctx, projectFilter)
	if err != nil {
		return nil, fmt.Errorf("query project history: %w", err)
	}

	allHistory, err := e.executions.Query(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	return &Input{
		Execution:      exec,
		ToolHistory:    toolHistory,
		ProjectHistory: projectHistory,
		AllHistory:     allHistory,
	}, nil
}

// evaluate returns the triggers and the number of conditions invoked.
// A dry run leaves the cooldown tracker untouched.
func (e *Engine) evaluate(ctx context.Context, in *Input, dryRun bool) ([]*Triggered, int) {
	exec := in.Execution
	var triggers []*Triggered
	evaluated := 0

	for _, rule := range e.rules.ListEnabled() {
		if len(rule.history(in)) < rule.MinHistory {
			continue
		}
		if e.cooldowns.IsInCooldown(ctx, rule.ID, exec.Tool, exec.Project, rule.Cooldown) {
			metrics.CooldownSkipsTotal.WithLabelValues("detection").Inc()
			continue
		}

		evaluated++
		metrics.DetectionRulesEvaluated.Inc()
		result, err := runCondition(rule, in)
		if err != nil {
			metrics.RuleFaultsTotal.WithLabelValues("detection", rule.ID).Inc()
			log.Printf("warning: detection rule %s failed on execution %s: %v", rule.ID, exec.ID, err)
			continue
		}
		if !result.Triggered {
			continue
		}

		if rule.Cooldown > 0 && !dryRun {
			e.cooldowns.Record(ctx, rule.ID, exec.Tool, exec.Project)
		}
		metrics.DetectionTriggersTotal.WithLabelValues(rule.ID).Inc()
		triggers = append(triggers, &Triggered{
			RuleID:          rule.ID,
			Type:            rule.Type,
			Severity:        rule.Severity,
			Scope:           rule.Scope,
			Title:           rule.Name,
			Description:     rule.Description,
			SuggestedAction: rule.SuggestedAction,
			Method:          models.DetectionRule,
			ExecutionID:     exec.ID,
			Confidence:      clampConfidence(result.Confidence),
			Context:         result.Context,
			Tools:           []models.Tool{exec.Tool},
			Projects:        []string{exec.Project},
		})
	}
	return triggers, evaluated
}

// runCondition invokes the rule, converting a panic into an error.
func runCondition(rule *Rule, in *Input) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return rule.Condition(in), nil
}

// BatchOptions configures RunBatch.
type BatchOptions struct {
	// DryRun evaluates and deduplicates without writing improvements or
	// cooldowns, in memory or in the store.
	DryRun bool
}

// BatchResult summarizes a RunBatch call.
type BatchResult struct {
	ExecutionsAnalyzed int
	RulesEvaluated     int
	Triggered          int
	Created            int
	Deduplicated       int
	Improvements       []*models.Improvement
}

// RunBatch evaluates each execution, drops duplicates of open improvements
// and persists the rest. A storage error aborts the batch; the partial
// result is returned with it.
func (e *Engine) RunBatch(ctx context.Context, execs []*models.Execution, opts BatchOptions) (*BatchResult, error) {
	start := time.Now()
	defer func() {
		metrics.BatchDuration.WithLabelValues("detection").Observe(time.Since(start).Seconds())
	}()

	result := &BatchResult{}
	var pending []*models.Improvement

	for _, exec := range execs {
		in, err := e.buildInput(ctx, exec)
		if err != nil {
			return result, err
		}
		triggers, evaluated := e.evaluate(ctx, in, opts.DryRun)
		triggers = append(triggers, e.analyze(ctx, in)...)

		result.ExecutionsAnalyzed++
		result.RulesEvaluated += evaluated
		result.Triggered += len(triggers)

		for _, t := range triggers {
			dup, err := e.isDuplicate(ctx, t, pending)
			if err != nil {
				return result, err
			}
			if dup {
				result.Deduplicated++
				metrics.ImprovementsDeduplicatedTotal.Inc()
				continue
			}

			imp := t.Improvement()
			imp.DetectedAt = e.opts.Now()
			imp.UpdatedAt = imp.DetectedAt
			if !opts.DryRun {
				if err := e.improvements.Insert(ctx, imp); err != nil {
					return result, fmt.Errorf("insert improvement for rule %s: %w", t.RuleID, err)
				}
				metrics.ImprovementsCreatedTotal.WithLabelValues(string(imp.DetectionMethod)).Inc()
			}
			pending = append(pending, imp)
			result.Created++
			result.Improvements = append(result.Improvements, imp)
		}
	}
	return result, nil
}

// isDuplicate checks improvements created earlier in this batch and then storage.
func (e *Engine) isDuplicate(ctx context.Context, t *Triggered, pending []*models.Improvement) (bool, error) {
	since := e.opts.Now().Add(-e.opts.DedupWindow)
	for _, imp := range pending {
		if t.isDuplicateOf(imp, since) {
			return true, nil
		}
	}

	existing, err := e.improvements.Query(ctx, storage.ImprovementFilter{
		Statuses:        []models.ImprovementStatus{models.ImprovementOpen, models.ImprovementInProgress},
		ContextContains: ruleToken(t.RuleID),
		Since:           since,
	})
	if err != nil {
		return false, fmt.Errorf("query open improvements: %w", err)
	}
	for _, imp := range existing {
		if t.isDuplicateOf(imp, since) {
			return true, nil
		}
	}
	return false, nil
}

// analyze asks the optional analyzer for findings. Failures are logged.
func (e *Engine) analyze(ctx context.Context, in *Input) []*Triggered {
	if e.opts.Analyzer == nil {
		return nil
	}
	findings, err := e.opts.Analyzer.Analyze(ctx, in)
	if err != nil {
		log.Printf("warning: analyzer %s failed on execution %s: %v", e.opts.Analyzer.Name(), in.Execution.ID, err)
		return nil
	}

	exec := in.Execution
	triggers := make([]*Triggered, 0, len(findings))
	for _, f := range findings {
		if f.Key == "" || !f.Type.IsValid() {
			continue
		}
		triggers = append(triggers, &Triggered{
			RuleID:          "AI-" + strings.ToUpper(f.Key),
			Type:            f.Type,
			Severity:        f.Severity,
			Scope:           f.Scope,
			Title:           f.Title,
			Description:     f.Description,
			SuggestedAction: f.SuggestedAction,
			Method:          models.DetectionAI,
			ExecutionID:     exec.ID,
			Confidence:      clampConfidence(f.Confidence),
			Tools:           []models.Tool{exec.Tool},
			Projects:        []string{exec.Project},
		})
	}
	return triggers
}
