// Package model defines the value types shared across the ramen-harness
// packages.
//
// This package contains pure data structures with no external dependencies:
// the observable outcome of a command line (CommandResult), the outcome of
// a scenario (ScenarioOutcome), and container metadata read back from
// Docker labels (ContainerInfo).
//
// The package also defines exit codes (ExitCode) and an error type
// (HarnessError) that carries exit codes for proper OS process exit handling.
package model
