package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/toolwatch/internal/alerting"
	"github.com/good-yellow-bee/toolwatch/internal/models"
	"github.com/good-yellow-bee/toolwatch/internal/storage"
)

var (
	alertTool        string
	alertProject     string
	alertStatus      []string
	alertRule        string
	alertCategory    string
	alertLimit       int
	alertActor       string
	alertResolution  string
	alertSuppressFor time.Duration
	alertReason      string
)

// alertsCmd represents the alerts command group
var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Alert management commands",
	Long: `Commands for checking and managing alerts.

Alerts move from active to acknowledged, resolved or suppressed.
Resolved alerts are terminal.

Examples:
  # Evaluate alert rules and resolve alerts whose condition cleared
  toolwatch alerts check

  # List active alerts for one project
  toolwatch alerts list --status active --project api

  # Acknowledge, resolve or suppress an alert
  toolwatch alerts ack <id>
  toolwatch alerts resolve <id> --resolution "pinned dependency"
  toolwatch alerts suppress <id> --for 4h --reason "maintenance"`,
}

var alertsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate alert rules and auto-resolve cleared alerts",
	Long: `Evaluate every enabled alert rule over the recent executions and
auto-resolve active alerts whose condition no longer holds. New alerts
are sent to the configured notification channels.

Without --tool or --project, every (tool, project) pair seen in the
recent window is checked, plus the global scope.`,
	RunE: runAlertsCheck,
}

var alertsResolveStaleCmd = &cobra.Command{
	Use:   "resolve-stale",
	Short: "Auto-resolve alerts whose condition has cleared",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		resolved, err := a.resolveStale(context.Background())
		if err != nil {
			return err
		}
		if GetOutput() == "json" {
			return printJSON(resolved)
		}
		fmt.Printf("Resolved %d alert(s)\n", len(resolved))
		printAlerts(resolved)
		return nil
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := alertFilter()
		if err != nil {
			return err
		}

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		alerts, err := a.store.Alerts().Query(context.Background(), filter)
		if err != nil {
			return fmt.Errorf("list alerts: %w", err)
		}
		if GetOutput() == "json" {
			return printJSON(alerts)
		}
		if len(alerts) == 0 {
			fmt.Println("No alerts found.")
			return nil
		}
		printAlerts(alerts)
		fmt.Printf("\nTotal: %d alert(s)\n", len(alerts))
		return nil
	},
}

var alertsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one alert with its notification log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		alert, err := a.store.Alerts().GetByID(context.Background(), args[0])
		if err != nil {
			return alertLookupError(args[0], err)
		}
		if GetOutput() == "json" {
			return printJSON(alert)
		}
		printAlertDetail(alert)
		return nil
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <id>",
	Short: "Acknowledge an active alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionAlert(args[0], func(ctx context.Context, e *alerting.Engine) (*models.Alert, error) {
			return e.Acknowledge(ctx, args[0], actor())
		})
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionAlert(args[0], func(ctx context.Context, e *alerting.Engine) (*models.Alert, error) {
			return e.Resolve(ctx, args[0], actor(), alertResolution)
		})
	},
}

var alertsSuppressCmd = &cobra.Command{
	Use:   "suppress <id>",
	Short: "Suppress an alert and its rule for a while",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertSuppressFor <= 0 {
			return fmt.Errorf("--for must be positive")
		}
		until := time.Now().Add(alertSuppressFor)
		return transitionAlert(args[0], func(ctx context.Context, e *alerting.Engine) (*models.Alert, error) {
			return e.Suppress(ctx, args[0], actor(), until, alertReason)
		})
	},
}

func init() {
	alertsCheckCmd.Flags().StringVar(&alertTool, "tool", "", "only this tool")
	alertsCheckCmd.Flags().StringVar(&alertProject, "project", "", "only this project")

	lf := alertsListCmd.Flags()
	lf.StringSliceVar(&alertStatus, "status", nil, "filter by status (active, acknowledged, resolved, suppressed)")
	lf.StringVar(&alertRule, "rule", "", "filter by rule id")
	lf.StringVar(&alertCategory, "category", "", "filter by category")
	lf.StringVar(&alertTool, "tool", "", "filter by tool")
	lf.StringVar(&alertProject, "project", "", "filter by project")
	lf.IntVar(&alertLimit, "limit", 50, "maximum number of alerts")

	for _, c := range []*cobra.Command{alertsAckCmd, alertsResolveCmd, alertsSuppressCmd} {
		c.Flags().StringVar(&alertActor, "actor", "", "who performs the action (default: $USER)")
	}
	alertsResolveCmd.Flags().StringVar(&alertResolution, "resolution", "", "resolution note")
	alertsSuppressCmd.Flags().DurationVar(&alertSuppressFor, "for", time.Hour, "suppression duration")
	alertsSuppressCmd.Flags().StringVar(&alertReason, "reason", "", "suppression reason")

	alertsCmd.AddCommand(alertsCheckCmd, alertsResolveStaleCmd, alertsListCmd, alertsShowCmd,
		alertsAckCmd, alertsResolveCmd, alertsSuppressCmd)
	rootCmd.AddCommand(alertsCmd)
}

func runAlertsCheck(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{notify: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	scopes := []alerting.Scope{{Tool: toolFilter(alertTool), Project: alertProject}}
	if alertTool == "" && alertProject == "" {
		execs, err := a.recent(ctx, alerting.Scope{})
		if err != nil {
			return err
		}
		scopes = append(scopes, scopesOf(execs)...)
	}

	var raised, resolved []*models.Alert
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, s := range scopes {
			alerts, err := a.checkAlerts(gctx, s)
			raised = append(raised, alerts...)
			if err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		resolved, err = a.resolveStale(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("check alerts: %w", err)
	}

	if GetOutput() == "json" {
		return printJSON(map[string]interface{}{
			"raised":   raised,
			"resolved": resolved,
			"stats":    a.alerter.Stats(),
		})
	}
	fmt.Printf("Checked %d scope(s): %d raised, %d auto-resolved\n", len(scopes), len(raised), len(resolved))
	printAlerts(raised)
	if stats := a.dispatcher.RateLimitStats(); stats.Dropped > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d notification(s) dropped by rate limiting\n", stats.Dropped)
	}
	return nil
}

func alertFilter() (storage.AlertFilter, error) {
	filter := storage.AlertFilter{
		RuleID:  alertRule,
		Tool:    toolFilter(alertTool),
		Project: alertProject,
		Limit:   alertLimit,
	}
	for _, s := range alertStatus {
		switch st := models.AlertStatus(strings.ToLower(s)); st {
		case models.AlertActive, models.AlertAcknowledged, models.AlertResolved, models.AlertSuppressed:
			filter.Statuses = append(filter.Statuses, st)
		default:
			return filter, fmt.Errorf("unknown status %q", s)
		}
	}
	if alertCategory != "" {
		c, ok := models.ParseAlertCategory(alertCategory)
		if !ok {
			return filter, fmt.Errorf("unknown category %q", alertCategory)
		}
		filter.Category = c
	}
	return filter, nil
}

func transitionAlert(id string, fn func(context.Context, *alerting.Engine) (*models.Alert, error)) error {
	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	alert, err := fn(context.Background(), a.alerter)
	if err != nil {
		return alertLookupError(id, err)
	}
	if GetOutput() == "json" {
		return printJSON(alert)
	}
	fmt.Printf("Alert %s is now %s\n", alert.ID, alert.Status)
	return nil
}

func alertLookupError(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("alert %s not found", id)
	}
	return err
}

func actor() string {
	if alertActor != "" {
		return alertActor
	}
	return os.Getenv("USER")
}

func printAlerts(alerts []*models.Alert) {
	if len(alerts) == 0 {
		return
	}
	fmt.Printf("\n%-36s  %-8s  %-14s  %-12s  %-16s  %-30s  %s\n",
		"ID", "SEVERITY", "RULE", "STATUS", "TOOL/PROJECT", "TITLE", "TRIGGERED")
	fmt.Println(strings.Repeat("-", 140))
	for _, al := range alerts {
		scope := string(al.Tool)
		if al.Project != "" {
			scope += "/" + al.Project
		}
		fmt.Printf("%-36s  %s  %-14s  %-12s  %-16s  %-30s  %s\n",
			al.ID,
			severityColor(al.Severity).Sprintf("%-8s", al.Severity),
			truncate(al.TriggeredBy, 14),
			al.Status,
			truncate(scope, 16),
			truncate(al.Title, 30),
			al.TriggeredAt.Local().Format("2006-01-02 15:04"),
		)
	}
}

func printAlertDetail(al *models.Alert) {
	severityColor(al.Severity).Printf("[%s] %s\n", strings.ToUpper(string(al.Severity)), al.Title)
	fmt.Printf("  %s\n\n", al.Message)
	fmt.Printf("  ID:        %s\n", al.ID)
	fmt.Printf("  Rule:      %s (%s)\n", al.TriggeredBy, al.Category)
	fmt.Printf("  Status:    %s\n", al.Status)
	if al.Tool != "" || al.Project != "" {
		fmt.Printf("  Scope:     %s %s\n", al.Tool, al.Project)
	}
	fmt.Printf("  Triggered: %s\n", al.TriggeredAt.Local().Format(time.RFC3339))
	if al.AcknowledgedAt != nil {
		fmt.Printf("  Acked:     %s by %s\n", al.AcknowledgedAt.Local().Format(time.RFC3339), al.AcknowledgedBy)
	}
	if al.ResolvedAt != nil {
		fmt.Printf("  Resolved:  %s by %s: %s\n", al.ResolvedAt.Local().Format(time.RFC3339), al.ResolvedBy, al.Resolution)
	}
	if al.SuppressedUntil != nil {
		fmt.Printf("  Suppressed until %s by %s: %s\n", al.SuppressedUntil.Local().Format(time.RFC3339), al.SuppressedBy, al.Resolution)
	}
	if len(al.RelatedExecutionIDs) > 0 {
		fmt.Printf("  Executions: %s\n", strings.Join(al.RelatedExecutionIDs, ", "))
	}
	if len(al.Notifications) > 0 {
		fmt.Println("  Notifications:")
		for _, n := range al.Notifications {
			result := color.GreenString("sent")
			if n.Error != "" {
				result = color.RedString("failed: %s", n.Error)
			}
			fmt.Printf("    %s  %-8s  %s\n", n.SentAt.Local().Format("2006-01-02 15:04:05"), n.Channel, result)
		}
	}
}

func severityColor(s models.AlertSeverity) *color.Color {
	switch s {
	case models.AlertCritical:
		return color.New(color.FgRed, color.Bold)
	case models.AlertError:
		return color.New(color.FgRed)
	case models.AlertWarning:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}
