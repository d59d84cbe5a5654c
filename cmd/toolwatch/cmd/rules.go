package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var rulesAll bool

// ruleRow is the listing shape shared by detection and alert rules.
type ruleRow struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	Class    string `json:"class"`
	Severity string `json:"severity"`
	Cooldown string `json:"cooldown"`
	Enabled  bool   `json:"enabled"`
}

var rulesCmd = &cobra.Command{
	Use:   "rules [detection|alerts]",
	Short: "List the detection and alert rule catalogs",
	Long: `List the detection and alert rules in evaluation order, after
configured overrides and custom alert rules are applied.

Examples:
  toolwatch rules
  toolwatch rules alerts --all -o json`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"detection", "alerts"},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := ""
		if len(args) == 1 {
			kind = args[0]
			if kind != "detection" && kind != "alerts" {
				return fmt.Errorf("unknown rule kind %q (want detection or alerts)", kind)
			}
		}

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		var rows []ruleRow
		if kind == "" || kind == "detection" {
			for _, r := range a.detector.Rules().All() {
				if !rulesAll && !r.Enabled {
					continue
				}
				rows = append(rows, ruleRow{
					Kind: "detection", ID: r.ID, Name: r.Name, Class: string(r.Type),
					Severity: string(r.Severity), Cooldown: r.Cooldown.String(), Enabled: r.Enabled,
				})
			}
		}
		if kind == "" || kind == "alerts" {
			for _, r := range a.alerter.Rules().All() {
				if !rulesAll && !r.Enabled {
					continue
				}
				rows = append(rows, ruleRow{
					Kind: "alert", ID: r.ID, Name: r.Name, Class: string(r.Category),
					Severity: string(r.Severity), Cooldown: r.Cooldown.String(), Enabled: r.Enabled,
				})
			}
		}

		if GetOutput() == "json" {
			return printJSON(rows)
		}
		fmt.Printf("\n%-9s  %-16s  %-32s  %-14s  %-8s  %-8s  %s\n",
			"KIND", "ID", "NAME", "CLASS", "SEVERITY", "COOLDOWN", "ENABLED")
		fmt.Println(strings.Repeat("-", 105))
		for _, r := range rows {
			fmt.Printf("%-9s  %-16s  %-32s  %-14s  %-8s  %-8s  %v\n",
				r.Kind, r.ID, truncate(r.Name, 32), r.Class, r.Severity, r.Cooldown, r.Enabled)
		}
		fmt.Printf("\nTotal: %d rule(s)\n", len(rows))
		return nil
	},
}

func init() {
	rulesCmd.Flags().BoolVar(&rulesAll, "all", false, "include disabled rules")
	rootCmd.AddCommand(rulesCmd)
}
