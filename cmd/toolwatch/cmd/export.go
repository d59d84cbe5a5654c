package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/toolwatch/internal/analytics"
	"github.com/good-yellow-bee/toolwatch/internal/export"
	"github.com/good-yellow-bee/toolwatch/internal/storage"
)

var (
	exportFormat string
	exportOut    string
	exportSince  time.Duration
	exportLimit  int
)

var exportCmd = &cobra.Command{
	Use:   "export <improvements|alerts|metrics>",
	Short: "Export improvements, alerts or an execution metrics snapshot",
	Long: `Export records as JSON or CSV.

'metrics' aggregates the executions in the --since window into a
snapshot with per-tool and per-project breakdowns.

Examples:
  toolwatch export improvements --format csv --out improvements.csv
  toolwatch export alerts --since 168h
  toolwatch export metrics --since 24h --format csv`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"improvements", "alerts", "metrics"},
	RunE:      runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&exportFormat, "format", "f", "json", "export format (json, csv)")
	f.StringVar(&exportOut, "out", "", "output file (default: stdout)")
	f.DurationVar(&exportSince, "since", 0, "only records newer than this (metrics default: 24h)")
	f.IntVar(&exportLimit, "limit", 0, "maximum number of records (0 = no limit)")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	format, ok := export.ParseFormat(exportFormat)
	if !ok {
		return fmt.Errorf("unknown format %q (want json or csv)", exportFormat)
	}

	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	var w io.Writer = os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	exporter := export.NewExporter(format, w)

	ctx := context.Background()
	now := time.Now()
	var since time.Time
	if exportSince > 0 {
		since = now.Add(-exportSince)
	}

	switch args[0] {
	case "improvements":
		imps, err := a.store.Improvements().Query(ctx, storage.ImprovementFilter{Since: since, Limit: exportLimit})
		if err != nil {
			return fmt.Errorf("query improvements: %w", err)
		}
		err = exporter.ExportImprovements(imps)
		PrintVerbose("exported %d improvement(s)", len(imps))
		return err
	case "alerts":
		alerts, err := a.store.Alerts().Query(ctx, storage.AlertFilter{Since: since, Limit: exportLimit})
		if err != nil {
			return fmt.Errorf("query alerts: %w", err)
		}
		err = exporter.ExportAlerts(alerts)
		PrintVerbose("exported %d alert(s)", len(alerts))
		return err
	case "metrics":
		if since.IsZero() {
			since = now.Add(-24 * time.Hour)
		}
		execs, err := a.store.Executions().Query(ctx, storage.ExecutionFilter{Since: since, Limit: exportLimit})
		if err != nil {
			return fmt.Errorf("query executions: %w", err)
		}
		return exporter.ExportSnapshot(analytics.BuildSnapshot(execs, since, now))
	default:
		return fmt.Errorf("unknown export target %q", args[0])
	}
}
