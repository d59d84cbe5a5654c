package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/ai"
	"github.com/good-yellow-bee/toolwatch/internal/alerting"
	"github.com/good-yellow-bee/toolwatch/internal/analytics"
	"github.com/good-yellow-bee/toolwatch/internal/detection"
	"github.com/good-yellow-bee/toolwatch/internal/metrics"
	"github.com/good-yellow-bee/toolwatch/internal/models"
	"github.com/good-yellow-bee/toolwatch/internal/notifier"
	"github.com/good-yellow-bee/toolwatch/internal/storage"
	"github.com/good-yellow-bee/toolwatch/pkg/config"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg        *config.Config
	store      *storage.SQLiteStorage
	detector   *detection.Engine
	alerter    *alerting.Engine
	dispatcher *notifier.Dispatcher
}

// appOptions selects the optional parts of the wiring.
type appOptions struct {
	// notify registers the configured notification channels.
	notify bool
	// analyze enables the AI analyzer when configured.
	analyze bool
}

func openApp(opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	PrintVerbose("database: %s", cfg.Database.Path)

	a := &app{cfg: cfg, store: store}
	if err := a.wire(opts); err != nil {
		a.Close()
		return nil, err
	}
	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)
	return a, nil
}

func (a *app) wire(opts appOptions) error {
	cfg := a.cfg

	detectionRules := detection.BuiltinRules()
	if err := detection.ApplyOverrides(detectionRules, cfg.Detection.Overrides); err != nil {
		return fmt.Errorf("detection overrides: %w", err)
	}
	detectionRegistry, err := detection.NewRegistry(detectionRules)
	if err != nil {
		return fmt.Errorf("detection rules: %w", err)
	}

	cooldownOpts := detection.DefaultCooldownOptions()
	cooldownOpts.Ceiling = cfg.Detection.CooldownCeiling
	if cfg.Detection.Durable {
		cooldownOpts.Store = a.store.Cooldowns()
	}

	engineOpts := detection.DefaultEngineOptions()
	engineOpts.HistoryLimit = cfg.Detection.HistoryLimit
	engineOpts.DedupWindow = cfg.Detection.DedupWindow
	if opts.analyze && cfg.AI.Enabled {
		completer, err := ai.NewAnthropicCompleter(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.MaxTokens)
		if err != nil {
			return fmt.Errorf("ai analyzer: %w", err)
		}
		engineOpts.Analyzer = ai.NewAnalyzer(completer, ai.Options{
			OnlyFailures: cfg.AI.OnlyFailures,
			HistoryLimit: 10,
			Timeout:      cfg.AI.Timeout,
		})
		PrintVerbose("ai analyzer enabled (model %s)", cfg.AI.Model)
	}
	a.detector = detection.NewEngine(detectionRegistry, a.store.Executions(), a.store.Improvements(),
		detection.NewCooldownTracker(cooldownOpts), engineOpts)

	alertRegistry, err := alerting.LoadRegistry(cfg.Alerts.RulesFile)
	if err != nil {
		return fmt.Errorf("alert rules: %w", err)
	}
	alertOpts := alerting.DefaultEngineOptions()
	alertOpts.Thresholds = cfg.Alerts.Thresholds

	if opts.notify {
		dispatcher, err := newDispatcher(cfg)
		if err != nil {
			return err
		}
		dispatcher.SetRecorder(a.store.Alerts())
		a.dispatcher = dispatcher
		alertOpts.OnAlert = dispatcher.Dispatch
		PrintVerbose("notification channels: %v", dispatcher.Names())
	}
	a.alerter = alerting.NewEngine(alertRegistry, a.store.Alerts(), alertOpts)
	return nil
}

func newDispatcher(cfg *config.Config) (*notifier.Dispatcher, error) {
	n := cfg.Notifications
	d := notifier.NewDispatcherWithRateLimit(n.RateLimit)

	if n.Console.Enabled {
		console, err := notifier.NewConsoleNotifier(nil)
		if err != nil {
			return nil, fmt.Errorf("console notifier: %w", err)
		}
		d.RegisterWithMinSeverity(console, models.AlertSeverity(n.Console.MinSeverity))
	}
	if n.File.Enabled {
		file, err := notifier.NewFileNotifier(notifier.FileConfig{Path: n.File.Path})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("file notifier: %w", err)
		}
		d.RegisterWithMinSeverity(file, models.AlertSeverity(n.File.MinSeverity))
	}
	if n.GitHub.Enabled {
		gh, err := notifier.NewGitHubNotifier(n.GitHub.GitHubConfig)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("github notifier: %w", err)
		}
		d.RegisterWithMinSeverity(gh, models.AlertSeverity(n.GitHub.MinSeverity))
	}
	return d, nil
}

// Close releases the notifiers and the database.
func (a *app) Close() {
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(); err != nil {
			log.Printf("warning: close notifiers: %v", err)
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

// recent returns the most recent executions in scope, most recent first.
func (a *app) recent(ctx context.Context, scope alerting.Scope) ([]*models.Execution, error) {
	execs, err := a.store.Executions().Query(ctx, storage.ExecutionFilter{
		Tool:    scope.Tool,
		Project: scope.Project,
		Limit:   a.cfg.Alerts.RecentWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("query recent executions: %w", err)
	}
	return execs, nil
}

// checkAlerts raises alerts for scope over the recent window.
func (a *app) checkAlerts(ctx context.Context, scope alerting.Scope) ([]*models.Alert, error) {
	execs, snapshot, err := a.window(ctx, scope)
	if err != nil {
		return nil, err
	}
	return a.alerter.CheckRules(ctx, execs, snapshot, scope)
}

// resolveStale auto-resolves alerts whose conditions have cleared. Each
// alert's scope gets its own recent window.
func (a *app) resolveStale(ctx context.Context) ([]*models.Alert, error) {
	return a.alerter.CheckAutoResolve(ctx, a.window)
}

// window loads the recent executions and their snapshot for scope.
func (a *app) window(ctx context.Context, scope alerting.Scope) ([]*models.Execution, *models.MetricsSnapshot, error) {
	execs, err := a.recent(ctx, scope)
	if err != nil {
		return nil, nil, err
	}
	return execs, snapshotOf(execs), nil
}

// prune deletes executions and cooldown entries past their retention.
func (a *app) prune(ctx context.Context, now time.Time) error {
	if d := a.cfg.Retention.Executions; d > 0 {
		n, err := a.store.Executions().DeleteBefore(ctx, now.Add(-d))
		if err != nil {
			return fmt.Errorf("prune executions: %w", err)
		}
		PrintVerbose("pruned %d executions", n)
	}
	if d := a.cfg.Retention.Cooldowns; d > 0 {
		n, err := a.store.Cooldowns().DeleteBefore(ctx, now.Add(-d))
		if err != nil {
			return fmt.Errorf("prune cooldowns: %w", err)
		}
		PrintVerbose("pruned %d cooldown entries", n)
	}
	return nil
}

// snapshotOf aggregates execs over the period they span.
func snapshotOf(execs []*models.Execution) *models.MetricsSnapshot {
	if len(execs) == 0 {
		now := time.Now()
		return analytics.BuildSnapshot(nil, now, now)
	}
	// Most recent first.
	return analytics.BuildSnapshot(execs, execs[len(execs)-1].Timestamp, execs[0].Timestamp)
}

// scopesOf returns the distinct (tool, project) pairs of execs in a stable order.
func scopesOf(execs []*models.Execution) []alerting.Scope {
	seen := make(map[alerting.Scope]bool)
	var scopes []alerting.Scope
	for _, e := range execs {
		s := alerting.Scope{Tool: e.Tool, Project: e.Project}
		if !seen[s] {
			seen[s] = true
			scopes = append(scopes, s)
		}
	}
	sort.Slice(scopes, func(i, j int) bool {
		if scopes[i].Project != scopes[j].Project {
			return scopes[i].Project < scopes[j].Project
		}
		return scopes[i].Tool < scopes[j].Tool
	})
	return scopes
}
