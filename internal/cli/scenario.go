// scenario.go implements the "ramen-harness scenario" command.
//
// The scenario command runs one isolated scenario from the shell, for
// scripts and CI jobs that do not drive the harness from Go tests.
//
// Orchestration steps:
//  1. Pin the process environment for the system under test
//  2. Enter a fresh scenario (workspace, persistence variable, chdir)
//  3. Spawn every --daemon in order
//  4. Wait for every --wait-for path
//  5. Run the program and capture its result
//  6. Exit the scenario: drain daemons, restore, keep or remove workspace
//  7. Output results (text or JSON)
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/ramen-harness/internal/model"
	"github.com/mmr-tortoise/ramen-harness/internal/quantity"
	"github.com/mmr-tortoise/ramen-harness/internal/scenario"
)

// scenarioFlags holds the flag values for the scenario command.
type scenarioFlags struct {
	// daemons are command lines started before the program, in order.
	daemons []string

	// waitFor lists workspace paths that must exist before the program
	// runs. Each value may name several paths ("a.pid and b.pid").
	waitFor []string

	// waitTimeout bounds each wait.
	waitTimeout time.Duration

	// keep keeps the workspace even when the scenario passes.
	keep bool
}

// scenarioResultJSON is the JSON output of the scenario command.
type scenarioResultJSON struct {
	ScenarioID string              `json:"scenarioId"`
	Workspace  string              `json:"workspace"`
	Outcome    string              `json:"outcome"`
	Kept       bool                `json:"kept"`
	Daemons    []string            `json:"daemons"`
	Result     model.CommandResult `json:"result"`
}

// NewScenarioCommand creates the "scenario" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewScenarioCommand() *cobra.Command {
	flags := &scenarioFlags{}

	cmd := &cobra.Command{
		Use:   "scenario [flags] -- <program> [args...]",
		Short: "Run a program inside a fresh scenario workspace",
		Long: `Run one scenario: create a fresh workspace, point the persistence
variable into it, start the given daemons, optionally wait for files they
create, run the program and tear everything down again. Daemons are
interrupted and reaped. The workspace is removed when the program succeeds
and kept for investigation when it fails.

Examples:
  ramen-harness scenario --daemon "ramen supervisor" -- ramen ps
  ramen-harness scenario --daemon "ramen httpd" \
      --wait-for "ramen_persist_dir/httpd.pid" -- ramen tail`,

		Args: cobra.MinimumNArgs(1),

		// Ctrl-C cancels the context instead of killing the harness, so
		// the scenario still exits and its daemons are drained.
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runScenario(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), flags, args)
		},
	}

	cmd.Flags().StringArrayVar(&flags.daemons, "daemon", nil,
		"Daemon command line to start before the program (repeatable)")
	cmd.Flags().StringArrayVar(&flags.waitFor, "wait-for", nil,
		"Workspace path(s) to wait for before running the program (repeatable)")
	cmd.Flags().DurationVar(&flags.waitTimeout, "wait-timeout", 30*time.Second,
		"Maximum time to wait for each --wait-for path")
	cmd.Flags().BoolVar(&flags.keep, "keep", false, "Keep the workspace even if the scenario passes")
	// Flags after the program belong to the program.
	cmd.Flags().SetInterspersed(false)

	return cmd
}

// runScenario is the main orchestration function for the scenario command.
func runScenario(ctx context.Context, stdout, stderr io.Writer, flags *scenarioFlags, args []string) error {
	cfg := harnessConfig
	if flags.keep {
		cfg.Workspace.KeepAlways = true
	}

	// Step 1: pin the environment once for the whole process.
	if err := scenario.ConfigureProcess(cfg.Environment); err != nil {
		return model.WrapHarnessError(model.ExitConfigError, "failed to prepare environment", err)
	}

	// Relative program paths refer to the caller's directory, not the
	// workspace the program will run in.
	program, err := absProgram(args[0])
	if err != nil {
		return err
	}

	// Step 2: enter the scenario. Close covers the early returns below; on
	// the normal path Exit has already run and Close does nothing.
	lifecycle, err := scenario.NewLifecycle(cfg, scenario.WithLogger(logrus.WithField("command", "scenario")))
	if err != nil {
		return err
	}
	defer func() { _ = lifecycle.Close() }()

	s, err := lifecycle.Enter()
	if err != nil {
		return err
	}
	VerboseLog("Entered scenario %s in %s", s.ID(), s.Workspace().Root())

	// Steps 3 to 5. An interrupted or failing scenario counts as failed,
	// which keeps its workspace.
	res, runErr := runInScenario(ctx, s, flags, program, strings.Join(args[1:], " "))
	failed := runErr != nil || !res.Success() || ctx.Err() != nil
	daemons := s.Daemons()

	// Step 6: teardown runs before printing, so the reported Kept flag is
	// final.
	exitErr := s.Exit(failed)

	// Step 7: there is no result to print when a daemon or wait failed.
	if runErr == nil {
		if err := printScenarioResult(stdout, stderr, s, daemons, res, failed); err != nil {
			return err
		}
	}

	// The most specific error decides the exit code.
	switch {
	case runErr != nil:
		return errors.Join(runErr, exitErr)
	case exitErr != nil:
		return exitErr
	case ctx.Err() != nil:
		return model.WrapHarnessError(model.ExitScenarioFailed, "scenario interrupted", ctx.Err())
	case !res.Success():
		return model.NewHarnessError(model.ExitScenarioFailed,
			fmt.Sprintf("command exited with status %d; workspace kept at %s", res.ExitCode, s.Workspace().Root()))
	}
	return nil
}

// runInScenario starts the daemons, waits for the requested paths and runs
// the program.
func runInScenario(ctx context.Context, s *scenario.Scenario, flags *scenarioFlags, program, args string) (model.CommandResult, error) {
	// A --daemon value is a complete command line, passed as the program
	// with no separate arguments.
	for _, line := range flags.daemons {
		if _, err := s.Spawn(line, ""); err != nil {
			return model.CommandResult{}, err
		}
	}

	// Each --wait-for value may name several paths, as in a step
	// definition: "a.pid and b.pid".
	for _, value := range flags.waitFor {
		for _, rel := range quantity.ListSplit(value) {
			if err := waitForPath(ctx, s, rel, flags.waitTimeout); err != nil {
				return model.CommandResult{}, err
			}
		}
	}

	res, err := s.Run(ctx, program, args)
	if err != nil {
		return res, model.WrapHarnessError(model.ExitProcessError, "failed to run command", err)
	}
	return res, nil
}

// waitForPath waits for one workspace path, bounded by timeout.
func waitForPath(ctx context.Context, s *scenario.Scenario, rel string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	VerboseLog("Waiting for %s", rel)
	if err := s.WaitFor(waitCtx, rel); err != nil {
		return model.WrapHarnessError(model.ExitProcessError,
			fmt.Sprintf("%s did not appear within %s", rel, timeout), err)
	}
	return nil
}

// absProgram makes a relative program path containing a slash absolute.
// Bare names are left for the shell to look up in PATH.
func absProgram(program string) (string, error) {
	if filepath.IsAbs(program) || !strings.ContainsRune(program, filepath.Separator) {
		return program, nil
	}
	abs, err := filepath.Abs(program)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", program, err)
	}
	return abs, nil
}

// printScenarioResult writes the scenario summary as JSON, or replays the
// program's output in text mode.
func printScenarioResult(stdout, stderr io.Writer, s *scenario.Scenario, daemons []string, res model.CommandResult, failed bool) error {
	if IsJSONOutput() {
		// An empty list, not null, when no daemon was started.
		if daemons == nil {
			daemons = []string{}
		}
		return printJSON(stdout, scenarioResultJSON{
			ScenarioID: s.ID(),
			Workspace:  s.Workspace().Root(),
			Outcome:    model.OutcomeOf(failed).String(),
			Kept:       s.Kept(),
			Daemons:    daemons,
			Result:     res,
		})
	}
	return printCommandResult(stdout, stderr, res)
}
