package alerting

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/metrics"
	"github.com/good-yellow-bee/toolwatch/internal/models"
	"github.com/good-yellow-bee/toolwatch/internal/storage"
)

// AutoActor is recorded as the actor of auto-resolved alerts.
const AutoActor = "auto"

// AutoResolution is the resolution text of auto-resolved alerts.
const AutoResolution = "Condition no longer met"

// Hook is called after each new alert has been persisted. Errors are
// logged and never abort the check.
type Hook func(ctx context.Context, alert *models.Alert) error

// Scope narrows a check to one tool and/or project.
type Scope struct {
	Tool    models.Tool
	Project string
}

// EngineStats tracks engine statistics using atomic operations for lock-free access.
type EngineStats struct {
	RulesEvaluated atomic.Int64
	AlertsRaised   atomic.Int64
	CooldownSkips  atomic.Int64
	SuppressSkips  atomic.Int64
	RuleFaults     atomic.Int64
	AutoResolved   atomic.Int64
	HookFailures   atomic.Int64
}

// EngineStatsSnapshot is a snapshot of engine statistics for reporting.
type EngineStatsSnapshot struct {
	RulesEvaluated int64
	AlertsRaised   int64
	CooldownSkips  int64
	SuppressSkips  int64
	RuleFaults     int64
	AutoResolved   int64
	HookFailures   int64
}

// EngineOptions configures the alert engine.
type EngineOptions struct {
	Thresholds models.Thresholds
	// OnAlert is the optional notification hook.
	OnAlert Hook
	// Now returns the current time.
	Now func() time.Time
}

// DefaultEngineOptions returns default engine options.
func DefaultEngineOptions() *EngineOptions {
	return &EngineOptions{
		Thresholds: models.DefaultThresholds(),
		Now:        time.Now,
	}
}

// Engine evaluates alert rules and manages alert state transitions.
// Rules run strictly in registry order.
type Engine struct {
	rules  *Registry
	alerts storage.AlertRepository
	opts   *EngineOptions
	stats  *EngineStats
}

// NewEngine creates an alert engine.
func NewEngine(rules *Registry, alerts storage.AlertRepository, opts *EngineOptions) *Engine {
	if opts == nil {
		opts = DefaultEngineOptions()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		rules:  rules,
		alerts: alerts,
		opts:   opts,
		stats:  &EngineStats{},
	}
}

// Rules returns the engine's rule registry.
func (e *Engine) Rules() *Registry {
	return e.rules
}

func (e *Engine) newContext(execs []*models.Execution, snapshot *models.MetricsSnapshot, scope Scope) *RuleContext {
	return &RuleContext{
		Executions: scoped(execs, scope),
		Metrics:    snapshot,
		Thresholds: e.opts.Thresholds,
		Tool:       scope.Tool,
		Project:    scope.Project,
		Now:        e.opts.Now(),
	}
}

// CheckRules evaluates every enabled rule against the recent executions
// (most recent first) and persists an alert for each rule that fires.
// A storage error stops the check; alerts already persisted are returned
// with it.
func (e *Engine) CheckRules(ctx context.Context, execs []*models.Execution, snapshot *models.MetricsSnapshot, scope Scope) ([]*models.Alert, error) {
	start := time.Now()
	defer func() {
		metrics.BatchDuration.WithLabelValues("alerting").Observe(time.Since(start).Seconds())
	}()

	rc := e.newContext(execs, snapshot, scope)
	var raised []*models.Alert

	for _, rule := range e.rules.ListEnabled() {
		if rule.Cooldown > 0 {
			cooling, err := e.alerts.IsRuleInCooldown(ctx, rule.ID, rule.Cooldown, rc.Now)
			if err != nil {
				return raised, fmt.Errorf("check cooldown for rule %s: %w", rule.ID, err)
			}
			if cooling {
				e.stats.CooldownSkips.Add(1)
				metrics.CooldownSkipsTotal.WithLabelValues("alerting").Inc()
				continue
			}
		}

		suppressed, err := e.isSuppressed(ctx, rule.ID, scope, rc.Now)
		if err != nil {
			return raised, err
		}
		if suppressed {
			e.stats.SuppressSkips.Add(1)
			continue
		}

		e.stats.RulesEvaluated.Add(1)
		fired, err := runPredicate(rule.Condition, rc)
		if err != nil {
			e.stats.RuleFaults.Add(1)
			metrics.RuleFaultsTotal.WithLabelValues("alerting", rule.ID).Inc()
			log.Printf("warning: alert rule %s failed: %v", rule.ID, err)
			continue
		}
		if !fired {
			continue
		}

		alert, err := e.buildAlert(rule, rc)
		if err != nil {
			e.stats.RuleFaults.Add(1)
			metrics.RuleFaultsTotal.WithLabelValues("alerting", rule.ID).Inc()
			log.Printf("warning: alert rule %s failed to render: %v", rule.ID, err)
			continue
		}
		if err := e.alerts.Insert(ctx, alert); err != nil {
			return raised, fmt.Errorf("insert alert for rule %s: %w", rule.ID, err)
		}
		e.stats.AlertsRaised.Add(1)
		metrics.AlertsTriggeredTotal.WithLabelValues(rule.ID, string(alert.Severity)).Inc()
		raised = append(raised, alert)

		e.notify(ctx, alert)
	}
	return raised, nil
}

// isSuppressed reports whether an alert of the rule is suppressed past now.
func (e *Engine) isSuppressed(ctx context.Context, ruleID string, scope Scope, now time.Time) (bool, error) {
	suppressed, err := e.alerts.Query(ctx, storage.AlertFilter{
		Statuses: []models.AlertStatus{models.AlertSuppressed},
		RuleID:   ruleID,
		Tool:     scope.Tool,
		Project:  scope.Project,
	})
	if err != nil {
		return false, fmt.Errorf("query suppressed alerts for rule %s: %w", ruleID, err)
	}
	for _, a := range suppressed {
		if a.SuppressedUntil != nil && a.SuppressedUntil.After(now) {
			return true, nil
		}
	}
	return false, nil
}

// buildAlert renders the alert for a rule that fired. Panics in the
// rule's value or related-execution functions are returned as errors.
func (e *Engine) buildAlert(rule *Rule, rc *RuleContext) (alert *models.Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	values := messageValues(rule, rc)
	related := rule.related(rc)
	ids := make([]string, 0, len(related))
	for _, r := range related {
		ids = append(ids, r.ID)
	}

	details := make(map[string]interface{}, len(values))
	for k, v := range values {
		details[k] = v
	}

	return &models.Alert{
		Category:            rule.Category,
		Severity:            rule.Severity,
		Status:              models.AlertActive,
		Title:               rule.Title(),
		Message:             Render(rule.Message, values),
		Tool:                rc.Tool,
		Project:             rc.Project,
		TriggeredAt:         rc.Now,
		TriggeredBy:         rule.ID,
		Context:             details,
		RelatedExecutionIDs: ids,
		UpdatedAt:           rc.Now,
	}, nil
}

func (e *Engine) notify(ctx context.Context, alert *models.Alert) {
	if e.opts.OnAlert == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.stats.HookFailures.Add(1)
			log.Printf("warning: alert hook panicked for alert %s: %v", alert.ID, r)
		}
	}()
	if err := e.opts.OnAlert(ctx, alert); err != nil {
		e.stats.HookFailures.Add(1)
		log.Printf("warning: alert hook failed for alert %s: %v", alert.ID, err)
	}
}

// Window loads the recent executions for a scope, most recent first, with
// their metrics snapshot.
type Window func(ctx context.Context, scope Scope) ([]*models.Execution, *models.MetricsSnapshot, error)

// Fixed returns a Window over a single execution list. Each scope sees
// only its own executions from execs.
func Fixed(execs []*models.Execution, snapshot *models.MetricsSnapshot) Window {
	return func(ctx context.Context, scope Scope) ([]*models.Execution, *models.MetricsSnapshot, error) {
		return scoped(execs, scope), snapshot, nil
	}
}

// CheckAutoResolve resolves active alerts whose rule reports the condition
// has cleared. Each alert is evaluated against the window loaded for its
// own tool and project, once per scope. Faults are logged per alert and
// leave it active.
func (e *Engine) CheckAutoResolve(ctx context.Context, load Window) ([]*models.Alert, error) {
	active, err := e.alerts.Query(ctx, storage.AlertFilter{
		Statuses: []models.AlertStatus{models.AlertActive},
	})
	if err != nil {
		return nil, fmt.Errorf("query active alerts: %w", err)
	}

	contexts := make(map[Scope]*RuleContext)
	failed := make(map[Scope]bool)

	var resolved []*models.Alert
	for _, alert := range active {
		rule, ok := e.rules.ByID(alert.TriggeredBy)
		if !ok || rule.AutoResolve == nil {
			continue
		}

		scope := Scope{Tool: alert.Tool, Project: alert.Project}
		if failed[scope] {
			continue
		}
		rc, ok := contexts[scope]
		if !ok {
			execs, snapshot, err := load(ctx, scope)
			if err != nil {
				failed[scope] = true
				log.Printf("warning: auto-resolve: load executions for %s/%s: %v", scope.Tool, scope.Project, err)
				continue
			}
			rc = e.newContext(execs, snapshot, scope)
			contexts[scope] = rc
		}

		cleared, err := runPredicate(rule.AutoResolve, rc)
		if err != nil {
			metrics.RuleFaultsTotal.WithLabelValues("alerting", rule.ID).Inc()
			log.Printf("warning: auto-resolve for alert %s (rule %s) failed: %v", alert.ID, rule.ID, err)
			continue
		}
		if !cleared {
			continue
		}

		updated, err := e.transition(ctx, alert.ID, models.AlertUpdate{
			Status:     models.AlertResolved,
			Actor:      AutoActor,
			Resolution: AutoResolution,
		})
		if err != nil {
			log.Printf("warning: auto-resolve for alert %s failed: %v", alert.ID, err)
			continue
		}
		e.stats.AutoResolved.Add(1)
		resolved = append(resolved, updated)
	}
	return resolved, nil
}

// Acknowledge marks an alert as seen by actor.
func (e *Engine) Acknowledge(ctx context.Context, id, actor string) (*models.Alert, error) {
	return e.transition(ctx, id, models.AlertUpdate{Status: models.AlertAcknowledged, Actor: actor})
}

// Resolve closes an alert with an optional resolution note.
func (e *Engine) Resolve(ctx context.Context, id, actor, resolution string) (*models.Alert, error) {
	return e.transition(ctx, id, models.AlertUpdate{
		Status:     models.AlertResolved,
		Actor:      actor,
		Resolution: resolution,
	})
}

// Suppress silences an alert until the given time. The rule stays quiet
// for the alert's scope until then.
func (e *Engine) Suppress(ctx context.Context, id, actor string, until time.Time, reason string) (*models.Alert, error) {
	if !until.After(e.opts.Now()) {
		return nil, fmt.Errorf("suppress until %s is not in the future", until.Format(time.RFC3339))
	}
	return e.transition(ctx, id, models.AlertUpdate{
		Status:          models.AlertSuppressed,
		Actor:           actor,
		Resolution:      reason,
		SuppressedUntil: &until,
	})
}

func (e *Engine) transition(ctx context.Context, id string, update models.AlertUpdate) (*models.Alert, error) {
	alert, err := e.alerts.Update(ctx, id, update, e.opts.Now())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("alert %s: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("update alert %s: %w", id, err)
	}
	metrics.AlertsTransitionsTotal.WithLabelValues(string(update.Status), actorLabel(update.Actor)).Inc()
	return alert, nil
}

// actorLabel keeps the metric label set small.
func actorLabel(actor string) string {
	if actor == AutoActor {
		return AutoActor
	}
	return "user"
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() EngineStatsSnapshot {
	return EngineStatsSnapshot{
		RulesEvaluated: e.stats.RulesEvaluated.Load(),
		AlertsRaised:   e.stats.AlertsRaised.Load(),
		CooldownSkips:  e.stats.CooldownSkips.Load(),
		SuppressSkips:  e.stats.SuppressSkips.Load(),
		RuleFaults:     e.stats.RuleFaults.Load(),
		AutoResolved:   e.stats.AutoResolved.Load(),
		HookFailures:   e.stats.HookFailures.Load(),
	}
}

// runPredicate invokes p, converting a panic into an error.
func runPredicate(p Predicate, rc *RuleContext) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p(rc), nil
}

// scoped keeps the executions matching the scope.
func scoped(execs []*models.Execution, scope Scope) []*models.Execution {
	if scope.Tool == "" && scope.Project == "" {
		return execs
	}
	return filter(execs, func(ex *models.Execution) bool {
		return (scope.Tool == "" || ex.Tool == scope.Tool) &&
			(scope.Project == "" || ex.Project == scope.Project)
	})
}

// floatEpsilon is the tolerance for comparing computed ratios.
const floatEpsilon = 1e-9

// atLeast reports value >= threshold within floatEpsilon.
func atLeast(value, threshold float64) bool {
	return value >= threshold-floatEpsilon
}
