// sweep.go implements the "ramen-harness sweep" command.
//
// A run that is killed (Ctrl-C twice, a CI timeout) never reaches Exit, so
// its containers keep running and its workspace stays in the temporary
// directory. sweep finds both by their markers: the ramen-harness.* labels
// on containers and the configured prefix on workspace directories.
//
// Steps:
//  1. Connect to Docker and remove labelled containers (unless --skip-docker)
//  2. Remove prefixed workspaces (only with --workspaces)
//  3. Print what was removed, text or JSON
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/ramen-harness/internal/docker"
	"github.com/mmr-tortoise/ramen-harness/internal/model"
	"github.com/mmr-tortoise/ramen-harness/internal/workspace"
)

// sweepFlags holds the flag values for the sweep command.
type sweepFlags struct {
	// scenarioID restricts the container sweep to one scenario.
	scenarioID string

	// workspaces also removes kept workspaces.
	workspaces bool

	// skipDocker skips the container sweep.
	skipDocker bool
}

// sweepResultJSON is the JSON output of the sweep command.
type sweepResultJSON struct {
	Containers []model.ContainerInfo `json:"containers"`
	Workspaces []string              `json:"workspaces"`
}

// NewSweepCommand creates the "sweep" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewSweepCommand() *cobra.Command {
	flags := &sweepFlags{}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove containers and workspaces left behind by earlier runs",
		Long: `Remove what interrupted or failed runs left behind: containers labelled
as started by the harness and, with --workspaces, the workspaces kept for
investigation in the temporary directory.

Examples:
  ramen-harness sweep
  ramen-harness sweep --scenario 3b2f6a0e-1c4d-4e8f-9a7b-2d5c6e7f8a9b
  ramen-harness sweep --workspaces --skip-docker`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.scenarioID, "scenario", "", "Only remove containers of this scenario")
	cmd.Flags().BoolVar(&flags.workspaces, "workspaces", false, "Also remove kept scenario workspaces")
	cmd.Flags().BoolVar(&flags.skipDocker, "skip-docker", false, "Do not remove containers")

	return cmd
}

func runSweep(ctx context.Context, out io.Writer, flags *sweepFlags) error {
	result := sweepResultJSON{
		Containers: []model.ContainerInfo{},
		Workspaces: []string{},
	}
	log := logrus.WithField("command", "sweep")

	// Step 1: containers. Docker being down is an error here, because the
	// user asked for the sweep; --skip-docker is the way around it.
	if !flags.skipDocker {
		cli, err := docker.NewClient(harnessConfig.Docker.Host)
		if err != nil {
			return err
		}
		defer func() { _ = cli.Close() }()

		if err := cli.Ping(ctx); err != nil {
			return err
		}
		VerboseLog("Connected to Docker daemon at %s (%s)", cli.Host(), cli.Source())

		// SweepContainers keeps going after a failed removal and returns
		// what it did remove, which is printed before the error.
		removed, err := docker.SweepContainers(ctx, cli, flags.scenarioID, log)
		result.Containers = append(result.Containers, removed...)
		if err != nil {
			_ = printSweepResult(out, result)
			return err
		}
	}

	// Step 2: workspaces under the system temporary directory.
	if flags.workspaces {
		removed, err := workspace.Sweep("", harnessConfig.Workspace.Prefix)
		result.Workspaces = append(result.Workspaces, removed...)
		if err != nil {
			_ = printSweepResult(out, result)
			return model.WrapHarnessError(model.ExitWorkspaceError, "failed to remove workspaces", err)
		}
	}

	// Step 3: report.
	return printSweepResult(out, result)
}

// printSweepResult lists removed containers and workspaces, one per line.
func printSweepResult(out io.Writer, result sweepResultJSON) error {
	if IsJSONOutput() {
		return printJSON(out, result)
	}

	if len(result.Containers) == 0 && len(result.Workspaces) == 0 {
		_, err := fmt.Fprintln(out, "Nothing to remove.")
		return err
	}
	for _, c := range result.Containers {
		if _, err := fmt.Fprintf(out, "container %-20s %-10s %s\n", c.ContainerName, c.Status, c.ScenarioID); err != nil {
			return err
		}
	}
	for _, w := range result.Workspaces {
		if _, err := fmt.Fprintf(out, "workspace %s\n", w); err != nil {
			return err
		}
	}
	return nil
}
