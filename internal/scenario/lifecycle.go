package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mmr-tortoise/ramen-harness/internal/command"
	"github.com/mmr-tortoise/ramen-harness/internal/config"
	"github.com/mmr-tortoise/ramen-harness/internal/docker"
	"github.com/mmr-tortoise/ramen-harness/internal/model"
	"github.com/mmr-tortoise/ramen-harness/internal/port"
	"github.com/mmr-tortoise/ramen-harness/internal/process"
	"github.com/mmr-tortoise/ramen-harness/internal/workspace"
)

// ErrActive is returned by Enter while another scenario has not exited.
// Scenarios change the working directory and environment of the whole
// process, so they cannot overlap.
var ErrActive = errors.New("a scenario is already active")

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the logger. Every scenario logs with its ID attached.
func WithLogger(log *logrus.Entry) Option {
	return func(l *Lifecycle) { l.log = log }
}

// WithDockerClient supplies the client used by Scenario.SpawnContainer.
// Without it a client is created from the configuration on first use.
func WithDockerClient(c *docker.Client) Option {
	return func(l *Lifecycle) { l.docker = c }
}

// Lifecycle runs scenarios one after another with the same configuration.
// It is safe for concurrent use, but only one scenario is active at a time.
type Lifecycle struct {
	cfg    config.Config
	log    *logrus.Entry
	runner *command.Runner

	// ports outlives single scenarios; each scenario releases what it
	// reserved on Exit.
	ports *port.Allocator

	// mu guards the fields below.
	mu     sync.Mutex
	active *Scenario

	// docker is created lazily by dockerClient. ownsDocker records whether
	// Close must close it, which is false for WithDockerClient.
	docker     *docker.Client
	ownsDocker bool
}

// NewLifecycle creates a Lifecycle for cfg. The port range is validated
// here; nothing touches the filesystem until Enter.
func NewLifecycle(cfg config.Config, opts ...Option) (*Lifecycle, error) {
	ports, err := port.NewAllocator(port.NewScanner(), cfg.Ports.Start, cfg.Ports.End)
	if err != nil {
		return nil, err
	}

	l := &Lifecycle{
		cfg:   cfg,
		log:   logrus.NewEntry(logrus.StandardLogger()),
		ports: ports,
	}
	for _, opt := range opts {
		opt(l)
	}
	// The runner logs through the final logger, so it is built after the
	// options are applied.
	l.runner = command.NewRunner(cfg.Shell, l.log)
	return l, nil
}

// Config returns the configuration scenarios run with.
func (l *Lifecycle) Config() config.Config { return l.cfg }

// Enter starts a scenario:
//  1. the working directory is recorded;
//  2. a fresh workspace is created;
//  3. the persistence variable is pointed into the workspace;
//  4. the process changes into the workspace.
//
// The scenario must be ended with Exit.
func (l *Lifecycle) Enter() (*Scenario, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil {
		return nil, model.WrapHarnessError(model.ExitWorkspaceError,
			fmt.Sprintf("cannot enter scenario: %s is still running", l.active.id), ErrActive)
	}

	// Step 1: remember where to return to.
	prevDir, err := os.Getwd()
	if err != nil {
		return nil, model.WrapHarnessError(model.ExitWorkspaceError, "failed to get working directory", err)
	}

	// Step 2: a fresh directory under the system temporary directory.
	ws, err := workspace.New(l.cfg.Workspace.Prefix)
	if err != nil {
		return nil, model.WrapHarnessError(model.ExitWorkspaceError, "failed to create workspace", err)
	}

	id := uuid.NewString()
	log := l.log.WithFields(logrus.Fields{"scenario": id, "workspace": ws.Root()})

	// Step 3: the persistence directory itself is not created; the system
	// under test creates it on first use. Failures from here on undo the
	// earlier steps.
	env := newEnvOverlay()
	persistDir := ws.Path(l.cfg.Environment.PersistSubdir)
	if err := env.Set(l.cfg.Environment.PersistDirVar, persistDir); err != nil {
		_ = env.Restore()
		_ = ws.Remove()
		return nil, model.WrapHarnessError(model.ExitWorkspaceError, "failed to set persistence directory", err)
	}

	// Step 4: relative paths in steps now resolve inside the workspace.
	if err := os.Chdir(ws.Root()); err != nil {
		_ = env.Restore()
		_ = ws.Remove()
		return nil, model.WrapHarnessError(model.ExitWorkspaceError, "failed to enter workspace", err)
	}

	// Every scenario gets its own registry, so nothing started by one can
	// be drained by another.
	s := &Scenario{
		id:         id,
		lifecycle:  l,
		ws:         ws,
		prevDir:    prevDir,
		persistDir: persistDir,
		env:        env,
		log:        log,
		registry: process.NewRegistry(
			process.WithStopTimeout(l.cfg.Daemons.StopTimeout.Std()),
			process.WithLogger(log),
		),
	}
	l.active = s
	log.Debug("scenario entered")
	return s, nil
}

// Active returns the scenario that has not exited yet, or nil.
func (l *Lifecycle) Active() *Scenario {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Close exits a scenario left active as failed, so its daemons are
// drained and its workspace kept, and closes the Docker client the
// lifecycle created. Call it once, when the harness shuts down.
func (l *Lifecycle) Close() error {
	var errs []error
	// Active is read without holding mu across Exit, which takes mu itself
	// through release.
	if s := l.Active(); s != nil {
		s.log.Warn("scenario still active at shutdown; exiting it as failed")
		if err := s.Exit(true); err != nil {
			errs = append(errs, err)
		}
	}

	l.mu.Lock()
	if l.docker != nil && l.ownsDocker {
		if err := l.docker.Close(); err != nil {
			errs = append(errs, err)
		}
		l.docker = nil
	}
	l.mu.Unlock()

	return errors.Join(errs...)
}

// dockerClient returns the Docker client, connecting on first use.
func (l *Lifecycle) dockerClient(ctx context.Context) (*docker.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.docker != nil {
		return l.docker, nil
	}

	// The first container of the run pays for connecting; scenarios without
	// containers never need Docker.
	c, err := docker.NewClient(l.cfg.Docker.Host)
	if err != nil {
		return nil, err
	}
	// Fail here with ExitDockerNotRunning rather than on the first docker
	// run with a less helpful CLI error.
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	l.log.WithFields(logrus.Fields{"host": c.Host(), "source": c.Source()}).Debug("connected to Docker daemon")
	l.docker = c
	l.ownsDocker = true
	return c, nil
}

// release forgets s as the active scenario.
func (l *Lifecycle) release(s *Scenario) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == s {
		l.active = nil
	}
}
