// Package cli implements the cobra-based CLI commands for ramen-harness.
//
// Each subcommand (run, check, scenario, sweep, config) is defined in its
// own file within this package. This file defines the root command that
// serves as the parent for all subcommands and handles global flags.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/ramen-harness/internal/config"
	"github.com/mmr-tortoise/ramen-harness/internal/logging"
	"github.com/mmr-tortoise/ramen-harness/internal/model"
)

// Global flag variables shared across all subcommands.
var (
	// jsonOutput switches command output to JSON for machine consumption.
	jsonOutput bool

	// verbose forces debug logging and enables VerboseLog.
	verbose bool

	// configPath is an explicit configuration file.
	configPath string
)

// harnessConfig is the configuration resolved before any subcommand runs.
var harnessConfig = config.Default()

// Version, Commit and Date are injected from the main package at build time.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates the root cobra command. It only provides help
// text and global flags; the work is done by subcommands.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ramen-harness",
		Short: "Black-box test harness for the ramen stream-processing system",
		Long: `ramen-harness runs the programs of a ramen installation as opaque
subprocesses, each scenario in a fresh temporary workspace that stands in
for the persistent storage location. Daemons started by a scenario are
interrupted and reaped when it ends, and the workspace of a failed scenario
is kept for investigation.`,

		// Errors are printed by Execute in text or JSON.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		// PersistentPreRunE runs before every subcommand. It resolves the
		// configuration once and configures logging from it, so subcommands
		// only read harnessConfig.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(configPath)
			if err != nil {
				return err
			}
			harnessConfig = cfg
			logging.Configure(cfg.LogLevel, verbose)
			VerboseLog("Configuration loaded (log level %s)", cfg.LogLevel)
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Configuration file (default: $"+config.EnvConfigPath+" or ./ramen-harness.{yaml,json,jsonc,toml})")

	// Register subcommands. Each one lives in its own file.
	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewCheckCommand())
	rootCmd.AddCommand(NewScenarioCommand())
	rootCmd.AddCommand(NewSweepCommand())
	rootCmd.AddCommand(NewConfigCommand())

	return rootCmd
}

// Execute runs the root command and exits with the code carried by a
// returned model.HarnessError, or ExitGeneralError for any other error.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(int(ExitCodeOf(err)))
	}
}

// ExitCodeOf returns the exit code for err after printing it.
func ExitCodeOf(err error) model.ExitCode {
	// HarnessError carries its own exit code; the wrapped error becomes the
	// detail.
	var harnessErr *model.HarnessError
	if errors.As(err, &harnessErr) {
		printError(os.Stderr, harnessErr.Message, harnessErr.Err)
		return harnessErr.Code
	}
	printError(os.Stderr, err.Error(), nil)
	return model.ExitGeneralError
}

// printError writes an error message in the format selected by --json.
// Errors always go to stderr; stdout is reserved for command output.
func printError(w io.Writer, message string, underlying error) {
	// JSON shape: {"error": {"message": "...", "detail": "..."}}
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// VerboseLog writes a debug message when verbose mode is enabled.
func VerboseLog(format string, args ...interface{}) {
	if verbose {
		logrus.Debugf(format, args...)
	}
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}
