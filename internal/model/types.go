package model

import (
	"fmt"
	"strings"
)

// CommandResult is the observable outcome of one external command line:
// everything a scenario step can learn about a program it ran.
//
// A nonzero ExitCode or a non-empty Stderr is data, not a harness failure.
// The calling step decides whether it constitutes a test failure.
type CommandResult struct {
	// Stdout is the complete standard output of the command.
	Stdout string `json:"stdout"`

	// Stderr is the complete standard error of the command.
	Stderr string `json:"stderr"`

	// ExitCode is the numeric exit status. A process terminated by a signal
	// reports 128 + the signal number, following the shell convention.
	ExitCode int `json:"exitCode"`
}

// Success reports whether the command exited with status 0.
func (r CommandResult) Success() bool {
	return r.ExitCode == 0
}

// StdoutLines splits Stdout into lines, dropping the trailing empty line
// produced by a final newline. Steps that count output records use this
// together with a quantity filter.
func (r CommandResult) StdoutLines() []string {
	return splitLines(r.Stdout)
}

// StderrLines is the Stderr counterpart of StdoutLines.
func (r CommandResult) StderrLines() []string {
	return splitLines(r.Stderr)
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// ScenarioOutcome is the result of a scenario as seen by its teardown.
// The outcome decides whether the workspace is deleted or kept.
type ScenarioOutcome string

const (
	// OutcomePassed means every step succeeded; the workspace is deleted.
	OutcomePassed ScenarioOutcome = "passed"

	// OutcomeFailed means a step failed; the workspace is kept on disk
	// for postmortem inspection.
	OutcomeFailed ScenarioOutcome = "failed"
)

// String returns the string representation of ScenarioOutcome.
func (o ScenarioOutcome) String() string {
	return string(o)
}

// OutcomeOf maps the boolean "failed" flag reported by a test framework
// to a ScenarioOutcome.
func OutcomeOf(failed bool) ScenarioOutcome {
	if failed {
		return OutcomeFailed
	}
	return OutcomePassed
}

// ContainerInfo holds runtime information about a Docker container started
// by the harness. This data is fetched dynamically from the Docker API.
type ContainerInfo struct {
	// ContainerID is the unique Docker container identifier.
	ContainerID string `json:"containerId"`

	// ContainerName is the human-readable Docker container name.
	ContainerName string `json:"containerName"`

	// ScenarioID is the ID of the scenario that started the container,
	// read back from its labels.
	ScenarioID string `json:"scenarioId,omitempty"`

	// Key is the launch command the container was registered under.
	Key string `json:"key,omitempty"`

	// Status is the Docker container state (e.g., "running", "exited").
	Status string `json:"status"`

	// Labels is the full set of Docker labels on the container.
	Labels map[string]string `json:"labels,omitempty"`
}

// ExitCode defines the exit codes of the ramen-harness CLI.
// Scripts and CI systems use them to tell harness faults apart from
// expectation failures.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitInvalidQuantity indicates a quantity description could not be
	// interpreted (for example "plenty").
	ExitInvalidQuantity ExitCode = 2

	// ExitQuantityMismatch indicates an observed count fell outside the
	// range derived from a quantity description.
	ExitQuantityMismatch ExitCode = 3

	// ExitConfigError indicates the harness configuration is unreadable
	// or invalid.
	ExitConfigError ExitCode = 4

	// ExitWorkspaceError indicates the scenario workspace could not be
	// created, entered or removed.
	ExitWorkspaceError ExitCode = 5

	// ExitProcessError indicates a daemon could not be started or drained.
	ExitProcessError ExitCode = 6

	// ExitDockerNotRunning indicates the Docker daemon is not accessible.
	ExitDockerNotRunning ExitCode = 7

	// ExitScenarioFailed indicates the command run inside a scenario
	// exited with a nonzero status.
	ExitScenarioFailed ExitCode = 8
)

// HarnessError is an error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type HarnessError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *HarnessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *HarnessError) Unwrap() error {
	return e.Err
}

// NewHarnessError creates a new HarnessError with the given exit code and message.
func NewHarnessError(code ExitCode, message string) *HarnessError {
	return &HarnessError{Code: code, Message: message}
}

// WrapHarnessError creates a new HarnessError that wraps an existing error.
func WrapHarnessError(code ExitCode, message string, err error) *HarnessError {
	return &HarnessError{Code: code, Message: message, Err: err}
}
