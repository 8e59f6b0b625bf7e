// check.go implements the "ramen-harness check" command.
//
// check exposes the quantity filter to shell scripts: a step that counts
// something (workers, lines of output) pipes the count here together with
// the English description from the scenario.
//
// Exit codes:
//   - 0 (ExitSuccess) when the count is in range
//   - 2 (ExitInvalidQuantity) when the description is not recognized
//   - 3 (ExitQuantityMismatch) when the count is out of range
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/ramen-harness/internal/model"
	"github.com/mmr-tortoise/ramen-harness/internal/quantity"
)

// checkResultJSON is the JSON output of the check command.
// Min and Max are the inclusive range the description maps to.
type checkResultJSON struct {
	Description string `json:"description"`
	Category    string `json:"category"`
	Min         int    `json:"min"`
	Max         int    `json:"max"`
	Observed    int    `json:"observed"`
	OK          bool   `json:"ok"`
}

// NewCheckCommand creates the "check" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <description> <count|->",
		Short: "Check a count against an English quantity description",
		Long: `Interpret a quantity description ("no", "a few", "lots of", "some",
or a number) as an inclusive range and check an observed count against it.

With "-" as the count, the non-empty lines read from stdin are counted.

Examples:
  ramen-harness check "a few" 3
  ramen ps --short | ramen-harness check "2 workers" -`,

		Args: cobra.ExactArgs(2),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.OutOrStdout(), cmd.InOrStdin(), args[0], args[1])
		},
	}
	return cmd
}

// runCheck parses the description, obtains the count and prints the
// verdict before returning it as an error.
func runCheck(out io.Writer, in io.Reader, description, count string) error {
	// Step 1: map the description to a range. Unknown phrases are an error
	// of their own, distinct from a mismatch.
	filter, err := quantity.Parse(description)
	if err != nil {
		return model.WrapHarnessError(model.ExitInvalidQuantity, "cannot interpret quantity", err)
	}

	// Step 2: the observed count, from the argument or from stdin.
	observed, err := observedCount(in, count)
	if err != nil {
		return err
	}

	// Step 3: compare and report. The verdict is printed in both cases.
	checkErr := filter.Check(observed)
	if err := printCheckResult(out, filter, observed, checkErr == nil); err != nil {
		return err
	}

	var mismatch *quantity.MismatchError
	if errors.As(checkErr, &mismatch) {
		return model.WrapHarnessError(model.ExitQuantityMismatch, "count out of range", checkErr)
	}
	return checkErr
}

// observedCount parses count, or counts the non-empty lines of in when
// count is "-".
func observedCount(in io.Reader, count string) (int, error) {
	if count != "-" {
		n, err := strconv.Atoi(count)
		if err != nil || n < 0 {
			return 0, model.NewHarnessError(model.ExitGeneralError,
				fmt.Sprintf("invalid count %q: must be a non-negative integer or -", count))
		}
		return n, nil
	}

	// Blank lines are not items; `ramen ps` output may end with one.
	n := 0
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read stdin: %w", err)
	}
	return n, nil
}

// printCheckResult writes "ok: N against <filter>" or its JSON form.
func printCheckResult(out io.Writer, f *quantity.Filter, observed int, ok bool) error {
	if IsJSONOutput() {
		return printJSON(out, checkResultJSON{
			Description: f.Description(),
			Category:    f.Category().String(),
			Min:         f.Range().Min,
			Max:         f.Range().Max,
			Observed:    observed,
			OK:          ok,
		})
	}

	status := "ok"
	if !ok {
		status = "FAIL"
	}
	_, err := fmt.Fprintf(out, "%s: %d against %s\n", status, observed, f)
	return err
}
