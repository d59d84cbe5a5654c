package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/toolwatch/internal/alerting"
	"github.com/good-yellow-bee/toolwatch/internal/detection"
	"github.com/good-yellow-bee/toolwatch/internal/models"
	"github.com/good-yellow-bee/toolwatch/internal/spool"
)

var (
	recordTool          string
	recordProject       string
	recordProjectPath   string
	recordCommand       string
	recordStatus        string
	recordDuration      time.Duration
	recordErrorCategory string
	recordErrorMessage  string
	recordContext       []string
	recordMetadata      []string
	recordDetect        bool
	recordToSpool       bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one tool execution",
	Long: `Record one completed tool execution.

By default the execution is stored in the database. With --spool it is
appended to the execution spool instead, for a running 'toolwatch watch'
to pick up.

Context and metadata values are key=value pairs; numeric values are
stored as numbers.

Examples:
  toolwatch record --tool test --project api --command "go test ./..." \
    --status failure --error-category dependency --duration 42s --detect

  toolwatch record --tool codegen --project web --command "gen" \
    --context tokensUsed=1800 --context apiCalls=4 --spool`,
	RunE: runRecord,
}

func init() {
	f := recordCmd.Flags()
	f.StringVar(&recordTool, "tool", "", "tool name (lint, test, build, deploy, codegen, review, docs, git)")
	f.StringVar(&recordProject, "project", "", "project name")
	f.StringVar(&recordProjectPath, "project-path", "", "project path")
	f.StringVar(&recordCommand, "command", "", "command line that was run")
	f.StringVar(&recordStatus, "status", "success", "status (success, failure, timeout, cancelled)")
	f.DurationVar(&recordDuration, "duration", 0, "execution duration")
	f.StringVar(&recordErrorCategory, "error-category", "", "error category for failures")
	f.StringVar(&recordErrorMessage, "error-message", "", "error message")
	f.StringArrayVar(&recordContext, "context", nil, "context key=value (repeatable)")
	f.StringArrayVar(&recordMetadata, "metadata", nil, "metadata key=value (repeatable)")
	f.BoolVar(&recordDetect, "detect", false, "run detection and alert checks after recording")
	f.BoolVar(&recordToSpool, "spool", false, "append to the execution spool instead of the database")
	recordCmd.MarkFlagRequired("tool")
	recordCmd.MarkFlagRequired("project")
	recordCmd.MarkFlagRequired("command")

	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	exec, err := buildExecution()
	if err != nil {
		return err
	}

	if recordToSpool {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		w, err := spool.NewWriter(cfg.Spool.Path)
		if err != nil {
			return err
		}
		defer w.Close()
		if err := w.Append(exec); err != nil {
			return err
		}
		PrintVerbose("appended to %s", cfg.Spool.Path)
		return nil
	}

	a, err := openApp(appOptions{notify: recordDetect, analyze: recordDetect})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.store.Executions().Insert(ctx, exec); err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	if !recordDetect {
		if GetOutput() == "json" {
			return printJSON(exec)
		}
		fmt.Println(exec.ID)
		return nil
	}

	result, err := a.detector.RunBatch(ctx, []*models.Execution{exec}, detection.BatchOptions{})
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	alerts, err := a.checkAlerts(ctx, alerting.Scope{Tool: exec.Tool, Project: exec.Project})
	if err != nil {
		return fmt.Errorf("check alerts: %w", err)
	}

	if GetOutput() == "json" {
		return printJSON(map[string]interface{}{
			"execution":    exec,
			"improvements": result.Improvements,
			"alerts":       alerts,
		})
	}
	fmt.Println(exec.ID)
	printImprovements(result.Improvements)
	if len(alerts) > 0 {
		printAlerts(alerts)
	}
	return nil
}

func buildExecution() (*models.Execution, error) {
	status, err := models.ParseExecutionStatus(recordStatus)
	if err != nil {
		return nil, err
	}

	exec := models.NewExecution(models.ParseTool(recordTool), recordProject, recordCommand)
	exec.ProjectPath = recordProjectPath
	exec.Status = status
	exec.DurationMs = recordDuration.Milliseconds()
	exec.ErrorCategory = models.ParseErrorCategory(recordErrorCategory)
	exec.ErrorMessage = recordErrorMessage

	for _, kv := range recordContext {
		k, v, err := parseKeyValue(kv)
		if err != nil {
			return nil, fmt.Errorf("--context: %w", err)
		}
		exec.SetContext(k, v)
	}
	for _, kv := range recordMetadata {
		k, v, err := parseKeyValue(kv)
		if err != nil {
			return nil, fmt.Errorf("--metadata: %w", err)
		}
		exec.SetMetadata(k, v)
	}

	exec.Normalize()
	if err := exec.Validate(); err != nil {
		return nil, err
	}
	return exec, nil
}

// parseKeyValue splits key=value; numeric values become float64.
func parseKeyValue(s string) (string, interface{}, error) {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return "", nil, fmt.Errorf("expected key=value, got %q", s)
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return k, n, nil
	}
	return k, v, nil
}
