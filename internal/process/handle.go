package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// Handle is a cancellation handle on a running daemon.
//
// Stop requests a cooperative shutdown and must not block. Wait blocks until
// the daemon has exited and its resources are reclaimed. Both must tolerate
// a daemon that has already exited: that is not an error.
type Handle interface {
	Stop() error
	Wait() error
}

// Killer is implemented by handles that support forceful termination.
// The registry escalates to Kill only when a stop timeout is configured.
type Killer interface {
	Kill() error
}

// StartOptions configures a daemon started with Start.
type StartOptions struct {
	// Shell is the shell used to interpret the command line.
	// Defaults to "/bin/sh".
	Shell string

	// Stdout and Stderr receive the daemon's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// Env replaces the inherited environment when non-nil.
	Env []string
}

// ExecHandle is a Handle on a local process started through a shell.
// Wait may be called any number of times, from any goroutine.
type ExecHandle struct {
	line string
	cmd  *exec.Cmd

	done    chan struct{}
	waitErr error

	mu       sync.Mutex
	exitCode int
}

// Start launches line as a daemon and returns immediately.
//
// The line is interpreted by `sh -c <line>` exactly like a step command, so
// environment assignments, `cd dir && prog` chains and pipelines work. The
// shell leads a new process group; Stop and Kill signal the whole group,
// which reaches the program and any children it started, whether or not the
// shell stayed around as their parent.
func Start(ctx context.Context, line string, opts StartOptions) (*ExecHandle, error) {
	shell := opts.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	// #nosec G204 -- running the caller's command line is the whole point
	cmd := exec.CommandContext(ctx, shell, "-c", line)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	// Own process group: the group ID equals the shell's PID.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// A cancelled context interrupts rather than kills, matching Stop.
	cmd.Cancel = func() error { return signalGroup(cmd.Process.Pid, syscall.SIGINT) }

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", line, err)
	}

	h := &ExecHandle{line: line, cmd: cmd, done: make(chan struct{}), exitCode: -1}
	go h.reap()
	return h, nil
}

// signalGroup delivers sig to every process of the group led by pid.
// A group that no longer exists reports os.ErrProcessDone.
func signalGroup(pid int, sig syscall.Signal) error {
	// A negative PID addresses the process group.
	if err := syscall.Kill(-pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

// reap waits for the process exactly once and publishes the result.
func (h *ExecHandle) reap() {
	err := h.cmd.Wait()

	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = ExitStatus(exitErr)
		// Exiting on a signal or with a nonzero status is how daemons
		// normally end here; it is not a failure to join.
		err = nil
	}

	h.mu.Lock()
	h.exitCode = code
	h.mu.Unlock()

	h.waitErr = err
	close(h.done)
}

// Line returns the command line the daemon was started with.
func (h *ExecHandle) Line() string { return h.line }

// PID returns the operating system process ID.
func (h *ExecHandle) PID() int { return h.cmd.Process.Pid }

// Exited reports whether the process has already terminated.
func (h *ExecHandle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit status, or -1 while the process is running.
func (h *ExecHandle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Stop sends an interrupt signal to the daemon's process group.
// Signalling a daemon that already exited is a no-op.
func (h *ExecHandle) Stop() error {
	return h.signal(syscall.SIGINT, "interrupt")
}

// Kill sends SIGKILL to the daemon's process group.
func (h *ExecHandle) Kill() error {
	return h.signal(syscall.SIGKILL, "kill")
}

func (h *ExecHandle) signal(sig syscall.Signal, verb string) error {
	if h.Exited() {
		return nil
	}
	if err := signalGroup(h.PID(), sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("%s %q (pgid %d): %w", verb, h.line, h.PID(), err)
	}
	return nil
}

// Wait blocks until the process has exited and been reaped.
func (h *ExecHandle) Wait() error {
	<-h.done
	return h.waitErr
}

// ExitStatus converts an exit error into a shell-style status code:
// the exit code, or 128 + signal number for a signalled process.
func ExitStatus(exitErr *exec.ExitError) int {
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}
