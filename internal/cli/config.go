// config.go implements the "ramen-harness config" command.
//
// The command prints the configuration every other command would use, so a
// user can see which file and which RAMEN_HARNESS_* overrides won. The YAML
// form is written with the same struct tags config.Load reads, which makes
// the output a starting point for a configuration file.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/ramen-harness/internal/config"
)

// NewConfigCommand creates the "config" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewConfigCommand() *cobra.Command {
	var defaults bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after files and RAMEN_HARNESS_* environment
overrides have been applied, as YAML (or JSON with --json). The output is a
valid configuration file.

Examples:
  ramen-harness config
  ramen-harness config --defaults > ramen-harness.yaml`,

		Args: cobra.NoArgs,

		// harnessConfig was resolved by the root PersistentPreRunE, so an
		// invalid file has already failed with ExitConfigError here.
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := harnessConfig
			if defaults {
				cfg = config.Default()
			}
			return printConfig(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().BoolVar(&defaults, "defaults", false, "Print the built-in defaults instead")

	return cmd
}

// printConfig writes cfg as YAML, or as JSON when --json is set.
func printConfig(out io.Writer, cfg config.Config) error {
	if IsJSONOutput() {
		return printJSON(out, cfg)
	}

	// Durations marshal as strings ("5s") through config.Duration, so the
	// output loads back unchanged.
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}
