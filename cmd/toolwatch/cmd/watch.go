package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/toolwatch/internal/alerting"
	"github.com/good-yellow-bee/toolwatch/internal/detection"
	"github.com/good-yellow-bee/toolwatch/internal/metrics"
	"github.com/good-yellow-bee/toolwatch/internal/models"
	"github.com/good-yellow-bee/toolwatch/internal/spool"
)

var (
	watchSpool   string
	watchFromEnd bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the execution spool and react to new executions",
	Long: `Follow the JSONL execution spool. Each new execution is stored, run
through detection and checked against the alert rules for its tool and
project. Alerts whose condition has cleared are auto-resolved every
alerts.check_interval.

The spool survives rotation (rename and recreate) and truncation.

Examples:
  toolwatch watch
  toolwatch watch --spool /var/spool/toolwatch/executions.jsonl --from-end`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchSpool, "spool", "", "spool file (default from config)")
	watchCmd.Flags().BoolVar(&watchFromEnd, "from-end", false, "skip executions already in the spool")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{notify: true, analyze: true})
	if err != nil {
		return err
	}
	defer a.Close()

	path := a.cfg.Spool.Path
	if watchSpool != "" {
		path = watchSpool
	}
	follower, err := spool.NewFollower(path, &spool.Options{
		Follow:       true,
		PollInterval: a.cfg.Spool.PollInterval,
		ReOpen:       true,
	})
	if err != nil {
		return err
	}
	defer follower.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchFromEnd || a.cfg.Spool.FromEnd {
		err = follower.StartFromEnd(ctx)
	} else {
		err = follower.Start(ctx)
	}
	if err != nil {
		return fmt.Errorf("start spool follower: %w", err)
	}
	log.Printf("watching %s", follower.Path())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.ingest(gctx, follower.Records())
	})
	g.Go(func() error {
		return a.maintain(gctx)
	})
	if a.cfg.Metrics.Textfile != "" {
		writer := metrics.NewTextfileWriter(a.cfg.Metrics.Textfile, 0)
		g.Go(func() error {
			return writer.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	stats := a.alerter.Stats()
	log.Printf("stopped: %d alert(s) raised, %d auto-resolved", stats.AlertsRaised, stats.AutoResolved)
	return nil
}

// ingest stores, analyzes and alert-checks each spooled execution. Errors
// on one execution are logged and do not stop the loop.
func (a *app) ingest(ctx context.Context, records <-chan spool.Record) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-records:
			if !ok {
				return nil
			}
			if rec.Err != nil {
				log.Printf("warning: spool: %v", rec.Err)
				continue
			}
			if err := a.handle(ctx, rec.Execution); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("warning: execution %s: %v", rec.Execution.ID, err)
			}
		}
	}
}

func (a *app) handle(ctx context.Context, exec *models.Execution) error {
	if err := a.store.Executions().Insert(ctx, exec); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	PrintVerbose("ingested %s", exec)

	result, err := a.detector.RunBatch(ctx, []*models.Execution{exec}, detection.BatchOptions{})
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	for _, imp := range result.Improvements {
		log.Printf("improvement %s [%s] %s", imp.ID, imp.Severity, imp.Title)
	}

	if _, err := a.checkAlerts(ctx, alerting.Scope{Tool: exec.Tool, Project: exec.Project}); err != nil {
		return fmt.Errorf("check alerts: %w", err)
	}
	return nil
}

// maintain periodically auto-resolves cleared alerts and prunes old records.
func (a *app) maintain(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Alerts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			resolved, err := a.resolveStale(ctx)
			if err != nil {
				log.Printf("warning: auto-resolve: %v", err)
			}
			for _, al := range resolved {
				log.Printf("auto-resolved alert %s (%s)", al.ID, al.TriggeredBy)
			}
			if err := a.prune(ctx, now); err != nil {
				log.Printf("warning: %v", err)
			}
		}
	}
}
