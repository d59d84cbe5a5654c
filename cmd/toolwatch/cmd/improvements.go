package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/toolwatch/internal/models"
	"github.com/good-yellow-bee/toolwatch/internal/storage"
)

var (
	impStatus   []string
	impType     string
	impSeverity string
	impTool     string
	impProject  string
	impSince    time.Duration
	impLimit    int
)

// improvementsCmd represents the improvements command group
var improvementsCmd = &cobra.Command{
	Use:     "improvements",
	Aliases: []string{"imp"},
	Short:   "Improvement suggestion commands",
	Long: `Commands for reviewing improvement suggestions raised by detection.

Examples:
  # Open improvements for one tool
  toolwatch improvements list --status open --tool test

  # Mark an improvement as being worked on
  toolwatch improvements set-status <id> in_progress`,
}

var improvementsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List improvements",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := improvementFilter()
		if err != nil {
			return err
		}

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		imps, err := a.store.Improvements().Query(context.Background(), filter)
		if err != nil {
			return fmt.Errorf("list improvements: %w", err)
		}
		if GetOutput() == "json" {
			return printJSON(imps)
		}
		if len(imps) == 0 {
			fmt.Println("No improvements found.")
			return nil
		}
		printImprovements(imps)
		fmt.Printf("\nTotal: %d improvement(s)\n", len(imps))
		return nil
	},
}

var improvementsSetStatusCmd = &cobra.Command{
	Use:   "set-status <id> <status>",
	Short: "Change an improvement's status",
	Long: `Change an improvement's status to open, in_progress, resolved,
dismissed or deferred. Resolved and dismissed improvements no longer
block new detections of the same rule.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := parseImprovementStatus(args[1])
		if err != nil {
			return err
		}

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		imp, err := a.store.Improvements().UpdateStatus(context.Background(), args[0], status)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("improvement %s not found", args[0])
		}
		if err != nil {
			return fmt.Errorf("update improvement: %w", err)
		}
		if GetOutput() == "json" {
			return printJSON(imp)
		}
		fmt.Printf("Improvement %s is now %s\n", imp.ID, imp.Status)
		return nil
	},
}

func init() {
	f := improvementsListCmd.Flags()
	f.StringSliceVar(&impStatus, "status", nil, "filter by status (open, in_progress, resolved, dismissed, deferred)")
	f.StringVar(&impType, "type", "", "filter by type")
	f.StringVar(&impSeverity, "severity", "", "filter by severity")
	f.StringVar(&impTool, "tool", "", "filter by affected tool")
	f.StringVar(&impProject, "project", "", "filter by affected project")
	f.DurationVar(&impSince, "since", 0, "only improvements detected within this duration")
	f.IntVar(&impLimit, "limit", 50, "maximum number of improvements")

	improvementsCmd.AddCommand(improvementsListCmd, improvementsSetStatusCmd)
	rootCmd.AddCommand(improvementsCmd)
}

func improvementFilter() (storage.ImprovementFilter, error) {
	filter := storage.ImprovementFilter{
		Tool:    toolFilter(impTool),
		Project: impProject,
		Limit:   impLimit,
	}
	for _, s := range impStatus {
		st, err := parseImprovementStatus(s)
		if err != nil {
			return filter, err
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	if impType != "" {
		t := models.ImprovementType(strings.ToLower(impType))
		if !t.IsValid() {
			return filter, fmt.Errorf("unknown improvement type %q", impType)
		}
		filter.Type = t
	}
	if impSeverity != "" {
		filter.Severity = models.ParseSeverity(impSeverity)
	}
	if impSince > 0 {
		filter.Since = time.Now().Add(-impSince)
	}
	return filter, nil
}

func parseImprovementStatus(s string) (models.ImprovementStatus, error) {
	switch st := models.ImprovementStatus(strings.ToLower(s)); st {
	case models.ImprovementOpen, models.ImprovementInProgress, models.ImprovementResolved,
		models.ImprovementDismissed, models.ImprovementDeferred:
		return st, nil
	}
	return "", fmt.Errorf("unknown improvement status %q", s)
}

func printImprovements(imps []*models.Improvement) {
	if len(imps) == 0 {
		return
	}
	fmt.Printf("\n%-36s  %-6s  %-13s  %-11s  %-4s  %-40s  %s\n",
		"ID", "SEV", "TYPE", "STATUS", "CONF", "TITLE", "DETECTED")
	fmt.Println(strings.Repeat("-", 135))
	for _, imp := range imps {
		fmt.Printf("%-36s  %s  %-13s  %-11s  %3.0f%%  %-40s  %s\n",
			imp.ID,
			improvementColor(imp.Severity).Sprintf("%-6s", imp.Severity),
			imp.Type,
			imp.Status,
			imp.Confidence*100,
			truncate(imp.Title, 40),
			imp.DetectedAt.Local().Format("2006-01-02 15:04"),
		)
	}
}

func improvementColor(s models.Severity) *color.Color {
	switch s {
	case models.SeverityUrgent:
		return color.New(color.FgRed, color.Bold)
	case models.SeverityHigh:
		return color.New(color.FgRed)
	case models.SeverityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}
