package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mmr-tortoise/ramen-harness/internal/command"
	"github.com/mmr-tortoise/ramen-harness/internal/docker"
	"github.com/mmr-tortoise/ramen-harness/internal/model"
	"github.com/mmr-tortoise/ramen-harness/internal/process"
	"github.com/mmr-tortoise/ramen-harness/internal/workspace"
)

// Scenario is one test run between Enter and Exit. It owns a workspace and
// the daemons started while it runs.
type Scenario struct {
	id        string
	lifecycle *Lifecycle
	ws        *workspace.Workspace

	// prevDir is the working directory before Enter; Exit returns to it.
	prevDir    string
	persistDir string

	// env undoes the variables Enter set.
	env      *envOverlay
	registry *process.Registry
	log      *logrus.Entry

	mu sync.Mutex
	// daemons counts Spawn calls and numbers the daemon logs.
	daemons int
	// ports are the reservations FreePort made, released on Exit.
	ports  []int
	exited bool
	kept   bool
}

// ID returns the unique scenario identifier.
func (s *Scenario) ID() string { return s.id }

// Workspace returns the scenario workspace.
func (s *Scenario) Workspace() *workspace.Workspace { return s.ws }

// Path joins rel onto the workspace root.
func (s *Scenario) Path(rel string) string { return s.ws.Path(rel) }

// PersistDir returns the value of the persistence variable for this
// scenario. The directory itself is created by the system under test.
func (s *Scenario) PersistDir() string { return s.persistDir }

// Log returns the scenario logger.
func (s *Scenario) Log() *logrus.Entry { return s.log }

// Daemons returns the keys of the daemons still registered.
func (s *Scenario) Daemons() []string { return s.registry.Keys() }

// Kept reports whether Exit left the workspace on disk.
func (s *Scenario) Kept() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kept
}

// Run executes `program args` in the workspace and waits for it.
// A nonzero exit status is part of the result, not an error.
func (s *Scenario) Run(ctx context.Context, program, args string) (model.CommandResult, error) {
	return s.lifecycle.runner.Run(ctx, program, args)
}

// Spawn starts `program args` as a daemon and registers it under the joined
// command line. Its stdout and stderr go to logs/daemon-N.log inside the
// workspace, numbered from 1 in start order.
func (s *Scenario) Spawn(program, args string) (*process.ExecHandle, error) {
	logDir, err := s.ws.MkdirAll(s.lifecycle.cfg.Workspace.LogDir)
	if err != nil {
		return nil, model.WrapHarnessError(model.ExitWorkspaceError, "failed to create daemon log directory", err)
	}

	// Numbers are handed out before the start attempt, so a daemon that
	// fails to start still leaves a gap rather than reusing its log.
	s.mu.Lock()
	s.daemons++
	n := s.daemons
	s.mu.Unlock()

	logPath := filepath.Join(logDir, fmt.Sprintf("daemon-%d.log", n))
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, model.WrapHarnessError(model.ExitWorkspaceError, "failed to open daemon log", err)
	}
	// The child holds its own copy of the descriptor.
	defer f.Close()

	// Daemons outlive any single step, so they are not bound to a caller
	// context; Exit stops them.
	h, err := s.lifecycle.runner.Start(context.Background(), program, args, process.StartOptions{
		Stdout: f,
		Stderr: f,
	})
	if err != nil {
		return nil, model.WrapHarnessError(model.ExitProcessError,
			fmt.Sprintf("failed to start daemon %q", command.Line(program, args)), err)
	}

	// Keys need not be unique; two identical lines are two daemons.
	s.registry.Register(h.Line(), h)
	s.log.WithFields(logrus.Fields{"key": h.Line(), "pid": h.PID(), "log": logPath}).Info("daemon started")
	return h, nil
}

// SpawnContainer runs spec as a containerized daemon labelled with this
// scenario and registers it. The key is the image followed by the command.
func (s *Scenario) SpawnContainer(ctx context.Context, spec docker.RunSpec) (*docker.ContainerHandle, error) {
	cli, err := s.lifecycle.dockerClient(ctx)
	if err != nil {
		return nil, err
	}

	// The harness labels win over caller labels with the same name, so
	// sweep can always find the container.
	key := strings.TrimSpace(spec.Image + " " + strings.Join(spec.Command, " "))
	labels := docker.BuildLabels(docker.LabelSet{ScenarioID: s.id, Key: key, CreatedAt: time.Now()})
	for k, v := range spec.Labels {
		if _, reserved := labels[k]; !reserved {
			labels[k] = v
		}
	}
	spec.Labels = labels

	id, err := docker.RunContainer(ctx, cli, spec)
	if err != nil {
		return nil, err
	}

	// Registered under the same contract as local daemons: Exit stops it,
	// waits for it and removes it when auto_remove is set.
	h := docker.NewContainerHandle(cli, id, s.lifecycle.cfg.Docker.AutoRemove)
	s.registry.Register(key, h)
	s.log.WithFields(logrus.Fields{"key": key, "container": id}).Info("container started")
	return h, nil
}

// Register tracks a daemon started by other means so that Exit drains it.
func (s *Scenario) Register(key string, h process.Handle) {
	s.registry.Register(key, h)
}

// FreePort reserves a port for a daemon of this scenario. Ports are
// released on Exit.
func (s *Scenario) FreePort(protocol string) (int, error) {
	p, err := s.lifecycle.ports.Allocate(protocol)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.ports = append(s.ports, p)
	s.mu.Unlock()
	return p, nil
}

// WaitFor blocks until rel exists in the workspace or ctx is done. Use it
// to wait for a daemon to produce a file instead of sleeping.
func (s *Scenario) WaitFor(ctx context.Context, rel string) error {
	return s.ws.WaitFor(ctx, rel)
}

// Exit ends the scenario. Every step runs even if an earlier one failed:
//  1. all registered daemons are drained;
//  2. the previous working directory is restored;
//  3. the environment variables set on Enter are restored;
//  4. the workspace is kept when failed (or when configured to always
//     keep it) and removed otherwise.
//
// Calling Exit again is a no-op.
func (s *Scenario) Exit(failed bool) error {
	// Claim the exit under the lock; a concurrent or repeated call returns
	// without touching anything.
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return nil
	}
	s.exited = true
	ports := s.ports
	s.ports = nil
	s.mu.Unlock()

	defer s.lifecycle.release(s)

	var errs []error

	// Step 1: daemons first, while the workspace they write to still
	// exists. Drain is not bounded by a caller context; a stuck daemon is
	// bounded by the stop timeout instead.
	if err := s.registry.Drain(context.Background()); err != nil {
		errs = append(errs, model.WrapHarnessError(model.ExitProcessError, "failed to drain daemons", err))
	}
	for _, p := range ports {
		s.lifecycle.ports.Release(p)
	}

	// Step 2.
	if err := os.Chdir(s.prevDir); err != nil {
		errs = append(errs, model.WrapHarnessError(model.ExitWorkspaceError,
			fmt.Sprintf("failed to return to %s", s.prevDir), err))
	}

	// Step 3.
	if err := s.env.Restore(); err != nil {
		errs = append(errs, err)
	}

	// Step 4: the workspace path is logged at warning level for a failed
	// scenario so it shows up without --verbose.
	outcome := model.OutcomeOf(failed)
	log := s.log.WithField("outcome", outcome)
	if failed || s.lifecycle.cfg.Workspace.KeepAlways {
		s.mu.Lock()
		s.kept = true
		s.mu.Unlock()
		if failed {
			log.Warnf("keeping workspace %s for investigation", s.ws.Root())
		} else {
			log.Infof("keeping workspace %s", s.ws.Root())
		}
	} else if err := s.ws.Remove(); err != nil {
		errs = append(errs, model.WrapHarnessError(model.ExitWorkspaceError, "failed to remove workspace", err))
	} else {
		log.Debug("scenario exited")
	}

	return errors.Join(errs...)
}
