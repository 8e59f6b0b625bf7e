// Package command runs command lines of the system under test and captures
// what a black-box test can observe about them: stdout, stderr and the exit
// status.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mmr-tortoise/ramen-harness/internal/model"
	"github.com/mmr-tortoise/ramen-harness/internal/process"
)

// DefaultShell interprets command lines unless the runner is configured
// with another one.
const DefaultShell = "/bin/sh"

// Runner executes command lines through a shell.
//
// The zero value is usable and runs through DefaultShell without logging.
type Runner struct {
	// Shell interprets the joined command line with "-c".
	Shell string

	// Log receives one debug line per command. Nil disables logging.
	Log *logrus.Entry
}

// NewRunner creates a Runner using the given shell.
func NewRunner(shell string, log *logrus.Entry) *Runner {
	return &Runner{Shell: shell, Log: log}
}

// Line joins a program path and its argument string the way the runner
// executes them. The result is also the key daemons are registered under.
func Line(program, args string) string {
	return strings.TrimSpace(program + " " + args)
}

// Run executes `program args` and blocks until it exits.
//
// A nonzero exit status is part of the returned result, never an error.
// The error is non-nil only when the shell itself could not be run, which
// is a fault of the test environment. No timeout is applied; pass a context
// with a deadline to bound the wait.
func (r *Runner) Run(ctx context.Context, program, args string) (model.CommandResult, error) {
	line := Line(program, args)

	// #nosec G204 -- running the caller's command line is the whole point
	cmd := exec.CommandContext(ctx, r.shell(), "-c", line)

	// Capture stdout and stderr separately; steps assert on each of them.
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := model.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}

	// An ExitError means the shell ran and the line failed, including
	// "command not found" (127); anything else means the shell never ran.
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = process.ExitStatus(exitErr)
	default:
		return result, fmt.Errorf("run %q: %w", line, err)
	}

	r.logf(logrus.Fields{"line": line, "exit": result.ExitCode}, "command finished")
	return result, nil
}

// Start launches `program args` as a daemon and returns its handle without
// waiting. Registering the handle is left to the caller.
func (r *Runner) Start(ctx context.Context, program, args string, opts process.StartOptions) (*process.ExecHandle, error) {
	// Daemons and steps share the shell, so a line behaves the same
	// whichever way it is started.
	if opts.Shell == "" {
		opts.Shell = r.shell()
	}
	line := Line(program, args)
	h, err := process.Start(ctx, line, opts)
	if err != nil {
		return nil, err
	}
	r.logf(logrus.Fields{"line": line, "pid": h.PID()}, "daemon started")
	return h, nil
}

func (r *Runner) shell() string {
	if r.Shell == "" {
		return DefaultShell
	}
	return r.Shell
}

func (r *Runner) logf(fields logrus.Fields, msg string) {
	if r.Log != nil {
		r.Log.WithFields(fields).Debug(msg)
	}
}
