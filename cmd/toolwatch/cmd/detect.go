package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/toolwatch/internal/detection"
	"github.com/good-yellow-bee/toolwatch/internal/models"
	"github.com/good-yellow-bee/toolwatch/internal/storage"
)

var (
	detectSince     time.Duration
	detectTool      string
	detectProject   string
	detectExecution string
	detectDryRun    bool
	detectAI        bool
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run improvement detection over recorded executions",
	Long: `Run the detection rules over recorded executions, oldest first, and
store new improvements. Improvements that duplicate an open one are
skipped.

Examples:
  # Analyze the last day
  toolwatch detect --since 24h

  # Preview without storing anything
  toolwatch detect --tool test --dry-run

  # Analyze a single execution
  toolwatch detect --execution 0b6e...`,
	RunE: runDetect,
}

func init() {
	f := detectCmd.Flags()
	f.DurationVar(&detectSince, "since", 24*time.Hour, "analyze executions newer than this")
	f.StringVar(&detectTool, "tool", "", "only this tool")
	f.StringVar(&detectProject, "project", "", "only this project")
	f.StringVar(&detectExecution, "execution", "", "analyze a single execution by id")
	f.BoolVar(&detectDryRun, "dry-run", false, "evaluate without storing improvements or cooldowns")
	f.BoolVar(&detectAI, "ai", true, "consult the AI analyzer when configured")

	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{analyze: detectAI && !detectDryRun})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	var execs []*models.Execution
	if detectExecution != "" {
		exec, err := a.store.Executions().GetByID(ctx, detectExecution)
		if err != nil {
			return fmt.Errorf("get execution: %w", err)
		}
		execs = []*models.Execution{exec}
	} else {
		execs, err = a.store.Executions().Query(ctx, storage.ExecutionFilter{
			Tool:    toolFilter(detectTool),
			Project: detectProject,
			Since:   time.Now().Add(-detectSince),
		})
		if err != nil {
			return fmt.Errorf("query executions: %w", err)
		}
		reverse(execs)
	}

	result, err := a.detector.RunBatch(ctx, execs, detection.BatchOptions{DryRun: detectDryRun})
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}

	if GetOutput() == "json" {
		return printJSON(result)
	}
	fmt.Printf("Analyzed %d execution(s), evaluated %d rule(s): %d triggered, %d new, %d duplicate(s)\n",
		result.ExecutionsAnalyzed, result.RulesEvaluated, result.Triggered, result.Created, result.Deduplicated)
	if detectDryRun {
		fmt.Println("(dry run: nothing was stored)")
	}
	printImprovements(result.Improvements)
	return nil
}

// reverse puts a most-recent-first slice into chronological order.
func reverse(execs []*models.Execution) {
	for i, j := 0, len(execs)-1; i < j; i, j = i+1, j-1 {
		execs[i], execs[j] = execs[j], execs[i]
	}
}

func toolFilter(s string) models.Tool {
	if s == "" {
		return ""
	}
	return models.ParseTool(s)
}
