// run.go implements the "ramen-harness run" command.
//
// run executes one program the way a scenario step does and reports what
// the step would observe. It does not create a workspace; the program runs
// in the current directory with the current environment.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/ramen-harness/internal/command"
	"github.com/mmr-tortoise/ramen-harness/internal/model"
)

// NewRunCommand creates the "run" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <program> [args...]",
		Short: "Run a program once and report its output and exit status",
		Long: `Run a program through the configured shell in the current directory,
wait for it and report what a scenario step observes: stdout, stderr and
the exit status. Arguments are joined with spaces and interpreted by the
shell, so quoting and expansion work as in a step definition.

Examples:
  ramen-harness run ramen --version
  ramen-harness --json run ramen ps`,

		Args: cobra.MinimumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args)
		},
	}

	// Everything after the program belongs to the program.
	cmd.Flags().SetInterspersed(false)

	return cmd
}

// runRun runs the program and maps its outcome to an exit code:
// a nonzero status becomes ExitScenarioFailed, and a program that could not
// be started at all becomes ExitProcessError.
func runRun(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	runner := command.NewRunner(harnessConfig.Shell, logrus.WithField("command", "run"))

	// The shell re-splits the joined line, so quoted arguments survive.
	program, rest := args[0], strings.Join(args[1:], " ")
	VerboseLog("Running %q", command.Line(program, rest))

	res, err := runner.Run(ctx, program, rest)
	if err != nil {
		return model.WrapHarnessError(model.ExitProcessError, "failed to run command", err)
	}

	// Output is printed before the status is judged so a failing command
	// still shows what it wrote.
	if err := printCommandResult(stdout, stderr, res); err != nil {
		return err
	}
	if !res.Success() {
		return model.NewHarnessError(model.ExitScenarioFailed,
			fmt.Sprintf("command exited with status %d", res.ExitCode))
	}
	return nil
}

// printCommandResult writes a result as JSON, or replays the captured
// streams onto stdout and stderr.
func printCommandResult(stdout, stderr io.Writer, res model.CommandResult) error {
	if IsJSONOutput() {
		return printJSON(stdout, res)
	}
	if _, err := io.WriteString(stdout, res.Stdout); err != nil {
		return err
	}
	_, err := io.WriteString(stderr, res.Stderr)
	return err
}
