package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/fathom/internal/config"
	"github.com/fathomlabs/fathom/internal/issue"
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List discoverable issues",
	Long: `Issues lists every diagnosable issue found under the configured
issue directories. An issue is a subdirectory containing an issue.md
problem description.`,
	RunE: runIssues,
}

func init() {
	rootCmd.AddCommand(issuesCmd)
}

func runIssues(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := setupLog(logLevelFlags, cfg.LogLevel); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	issues, err := issue.Discover(cfg.IssueDirs)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		fmt.Printf("No issues found under %v\n", cfg.IssueDirs)
		return nil
	}

	for _, iss := range issues {
		fmt.Printf("%s  %s\n", idStyle.Render(iss.ID), dimStyle.Render(iss.Dir))
	}
	return nil
}
