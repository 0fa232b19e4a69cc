package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/fathom/internal/logging"
)

const Version = "0.1.0"

// errBudgetLimited marks runs that ended because a budget ceiling was hit.
// It maps to a distinct exit code so scripts can tell partial results from
// hard failures.
var errBudgetLimited = errors.New("run aborted by budget")

var (
	configPath    string
	logLevelFlags []string // Supports multiple --log-level flags
)

var rootCmd = &cobra.Command{
	Use:   "fathom",
	Short: "Fathom - Evidence-driven incident diagnosis",
	Long: `Fathom investigates software incidents from their recorded artifacts.
It drives a reasoning delegate through logs, traces, and source code, records
every piece of evidence in an append-only ledger, and synthesizes a reviewed
diagnosis report.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code: 0 for a completed
// diagnosis, 2 for a budget-limited run, 1 for everything else.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if errors.Is(err, errBudgetLimited) {
		return 2
	}
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "fathom.yaml",
		"Path to the configuration file")

	// Supports per-package log levels: --log-level debug --log-level diagnose.engine=debug
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level",
		nil,
		"Log level for packages. Use a bare level for the default, or 'package.name=level' for per-package.\n"+
			"Examples: --log-level debug (all), --log-level diagnose.engine=debug --log-level tools.registry=warn")
}

// setupLog initializes the logging system from the parsed flags, falling back
// to the configured level when no flag was given.
func setupLog(flags []string, configLevel string) error {
	defaultLevel, packageLevels, err := parseLogLevelFlags(flags)
	if err != nil {
		return err
	}
	if len(flags) == 0 && configLevel != "" {
		defaultLevel = configLevel
	}
	return logging.Initialize(defaultLevel, packageLevels)
}

// parseLogLevelFlags parses CLI flags and environment variables.
// Priority: CLI flags > Environment variables
//
// CLI format: ["debug"], ["default=info", "diagnose.engine=debug"], or ["info"]
// Env vars: LOG_LEVEL_DIAGNOSE_ENGINE=debug (package name uppercased, dots to underscores)
func parseLogLevelFlags(flags []string) (string, map[string]string, error) {
	result := make(map[string]string)

	for _, envPair := range os.Environ() {
		if strings.HasPrefix(envPair, "LOG_LEVEL_") {
			parts := strings.SplitN(envPair, "=", 2)
			if len(parts) != 2 {
				continue
			}
			result[convertEnvKeyToPackageName(parts[0])] = parts[1]
		}
	}

	for _, flag := range flags {
		if !strings.Contains(flag, "=") {
			// Simple format like "debug" or "info" means default level
			result["default"] = flag
			continue
		}
		parts := strings.SplitN(flag, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}

	defaultLevel := "info"
	if level, exists := result["default"]; exists {
		defaultLevel = level
		delete(result, "default")
	}

	if err := validateLogLevel(defaultLevel); err != nil {
		return "", nil, err
	}
	for pkg, level := range result {
		if err := validateLogLevel(level); err != nil {
			return "", nil, fmt.Errorf("invalid log level for package %q: %v", pkg, err)
		}
	}

	return defaultLevel, result, nil
}

// convertEnvKeyToPackageName converts LOG_LEVEL_DIAGNOSE_ENGINE -> diagnose.engine
func convertEnvKeyToPackageName(envKey string) string {
	name := strings.TrimPrefix(envKey, "LOG_LEVEL_")
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}

func validateLogLevel(level string) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLevels[strings.ToLower(level)] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error, fatal)", level)
	}
	return nil
}
