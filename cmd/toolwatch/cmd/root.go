// Package cmd contains the CLI commands for toolwatch.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/toolwatch/pkg/config"
)

var (
	// Used for flags
	configFile string
	verbose    bool
	output     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "toolwatch",
	Short: "toolwatch - Tool execution monitor",
	Long: `toolwatch records executions of developer tools (linters, test runners,
builders, deployers, code generators), detects recurring problems and
raises alerts when something needs attention.

Features:
  - Rule-based improvement detection with cooldowns and deduplication
  - Alert lifecycle: raise, acknowledge, resolve, suppress, auto-resolve
  - Notifications to the console, a JSONL file and GitHub issues
  - Optional AI-assisted analysis
  - Live ingest from a JSONL execution spool

Examples:
  # Record a failed test run and check for improvements and alerts
  toolwatch record --tool test --project api --command "go test ./..." --status failure --detect

  # Follow the execution spool
  toolwatch watch

  # List active alerts
  toolwatch alerts list --status active`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Verbose = verbose
	return cfg, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 2 {
		return s[:max]
	}
	return s[:max-2] + ".."
}
