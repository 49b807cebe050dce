// Package cmd provides the sentinel CLI commands.
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sentinel/core"
	"sentinel/detect"
	"sentinel/incident"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// NewRulesCmd returns the `rules` command tree for validating and
// inspecting alert rule files before they are deployed.
func NewRulesCmd() *cobra.Command {
	var noColor bool

	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate and inspect alert rule files",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}
	rulesCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rulesCmd.AddCommand(newValidateCmd())
	rulesCmd.AddCommand(newListRulesCmd())
	rulesCmd.AddCommand(newPlaybooksCmd())
	return rulesCmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file-or-dir>",
		Short: "Validate alert rule YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := loadRulesPath(args[0])
			if err != nil {
				errorColor.Fprintf(cmd.OutOrStderr(), "FAIL: %v\n", err)
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "OK: %d rules valid\n", len(rules))
			return nil
		},
	}
}

func newListRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <file-or-dir>",
		Short: "List rules in a YAML file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := loadRulesPath(args[0])
			if err != nil {
				return err
			}
			headerColor.Fprintln(cmd.OutOrStdout(), "Alert rules")
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSEVERITY\tTHRESHOLD\tWINDOW\tACTIONS")
			for _, rule := range rules {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\n",
					rule.ID, rule.Name, rule.Severity, rule.Threshold, rule.Window, len(rule.Actions))
			}
			w.Flush()
			if len(rules) == 0 {
				warningColor.Fprintln(cmd.OutOrStdout(), "no rules found")
			}
			return nil
		},
	}
}

func newPlaybooksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "playbooks <file>",
		Short: "Validate an incident playbook file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			playbooks, err := incident.LoadPlaybooks(args[0])
			if err != nil {
				errorColor.Fprintf(cmd.OutOrStderr(), "FAIL: %v\n", err)
				return err
			}
			steps := 0
			for _, actions := range playbooks {
				steps += len(actions)
			}
			successColor.Fprintf(cmd.OutOrStdout(), "OK: %d playbooks, %d steps\n", len(playbooks), steps)
			return nil
		},
	}
}

func loadRulesPath(path string) ([]*core.AlertRule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return detect.LoadRulesFromDir(path)
	}
	return detect.LoadRulesFromFile(path)
}
