package docker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/sirupsen/logrus"

	"github.com/mmr-tortoise/ramen-harness/internal/model"
)

// RunSpec describes a containerized daemon.
type RunSpec struct {
	// Image is the image to run.
	Image string

	// Name is the container name. Empty lets Docker pick one.
	Name string

	// Labels are attached with --label; see BuildLabels.
	Labels map[string]string

	// Flags are extra docker run flags placed before the image
	// (port mappings, volumes, environment).
	Flags []string

	// Command overrides the image command.
	Command []string
}

// BuildRunArgs returns the arguments of "docker run" for spec.
func BuildRunArgs(spec RunSpec) []string {
	// Order matters to docker run: options, then the image, then the
	// command. Anything after the image is passed to the container.
	args := make([]string, 0, 4+len(spec.Labels)*2+len(spec.Flags)+1+len(spec.Command))
	args = append(args, "run", "-d")
	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}
	args = append(args, LabelArgs(spec.Labels)...)
	args = append(args, spec.Flags...)
	args = append(args, spec.Image)
	args = append(args, spec.Command...)
	return args
}

// RunContainer starts a detached container with "docker run -d" and returns
// its ID. The docker CLI pulls missing images, which the SDK's create call
// does not. The CLI talks to the same daemon as cli.
func RunContainer(ctx context.Context, cli *Client, spec RunSpec) (string, error) {
	if strings.TrimSpace(spec.Image) == "" {
		return "", model.NewHarnessError(model.ExitProcessError, "container image must not be empty")
	}

	// #nosec G204 -- the arguments come from the scenario definition
	cmd := exec.CommandContext(ctx, "docker", BuildRunArgs(spec)...)
	cmd.Env = os.Environ()
	// A host from the harness configuration is not in the environment, so
	// pass it on; later entries win over an inherited DOCKER_HOST.
	if cli != nil && cli.inner != nil {
		cmd.Env = append(cmd.Env, "DOCKER_HOST="+cli.inner.DaemonHost())
	}

	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", model.WrapHarnessError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("docker run failed for image %q: %s", spec.Image, strings.TrimSpace(stderr.String())),
			err,
		)
	}

	// docker run -d prints the full container ID and nothing else on
	// stdout; pull progress goes to stderr.
	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", model.NewHarnessError(model.ExitDockerNotRunning,
			fmt.Sprintf("docker run for image %q printed no container ID", spec.Image))
	}
	return id, nil
}

// ContainerHandle is a running container registered as a daemon. Stop
// delivers SIGINT to the container's main process, Wait blocks until the
// container is no longer running and Kill sends SIGKILL.
type ContainerHandle struct {
	cli        *Client
	id         string
	autoRemove bool

	// mu guards the state recorded by Wait.
	mu       sync.Mutex
	exitCode int
	exited   bool
}

// NewContainerHandle wraps the container id. When autoRemove is set, Wait
// removes the container after it stops.
func NewContainerHandle(cli *Client, id string, autoRemove bool) *ContainerHandle {
	return &ContainerHandle{cli: cli, id: id, autoRemove: autoRemove, exitCode: -1}
}

// ID returns the container ID.
func (h *ContainerHandle) ID() string { return h.id }

// ExitCode returns the container's exit status, or -1 before Wait returned.
func (h *ContainerHandle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Exited reports whether Wait observed the container stop.
func (h *ContainerHandle) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// Stop sends SIGINT. A container that is gone or already stopped is not an
// error.
func (h *ContainerHandle) Stop() error {
	return h.signal("SIGINT")
}

// Kill sends SIGKILL.
func (h *ContainerHandle) Kill() error {
	return h.signal("SIGKILL")
}

// signal delivers sig to the container's main process. Not-found and
// not-running answers mean there is nothing left to signal.
func (h *ContainerHandle) signal(sig string) error {
	// Stop must not block on a caller context; the request itself is
	// short.
	err := h.cli.Inner().ContainerKill(context.Background(), h.id, sig)
	if err != nil && !isGone(err) {
		return fmt.Errorf("failed to send %s to container %s: %w", sig, shortID(h.id), err)
	}
	return nil
}

// Wait blocks until the container stops. A nonzero container exit status
// is not an error.
func (h *ContainerHandle) Wait() error {
	ctx := context.Background()

	// Step 1: wait for the container to stop. "not-running" returns at
	// once for a container that already exited.
	statusCh, errCh := h.cli.Inner().ContainerWait(ctx, h.id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return fmt.Errorf("waiting for container %s: %s", shortID(h.id), status.Error.Message)
		}
		h.mu.Lock()
		h.exitCode = int(status.StatusCode)
		h.exited = true
		h.mu.Unlock()
	case err := <-errCh:
		// Removed before we waited: nothing to wait for, no exit status.
		if err != nil && !cerrdefs.IsNotFound(err) {
			return fmt.Errorf("waiting for container %s: %w", shortID(h.id), err)
		}
	}

	// Step 2: remove it, volumes included, unless it should stay around
	// for docker logs.
	if !h.autoRemove {
		return nil
	}
	err := h.cli.Inner().ContainerRemove(ctx, h.id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !isGone(err) {
		return fmt.Errorf("failed to remove container %s: %w", shortID(h.id), err)
	}
	return nil
}

// ListManagedContainers returns every container, running or not, labelled
// as started by the harness. A non-empty scenarioID narrows the result to
// that scenario.
func ListManagedContainers(ctx context.Context, cli *Client, scenarioID string) ([]model.ContainerInfo, error) {
	// Label filters are ANDed by the daemon.
	args := filters.NewArgs()
	for k, v := range FilterLabels(scenarioID) {
		args.Add("label", k+"="+v)
	}

	// All includes stopped containers, which also need removing.
	containers, err := cli.Inner().ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: args,
	})
	if err != nil {
		return nil, model.WrapHarnessError(
			model.ExitDockerNotRunning,
			"failed to list Docker containers",
			err,
		)
	}

	result := make([]model.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		result = append(result, summaryToInfo(c))
	}
	return result, nil
}

// SweepContainers force-removes the managed containers of scenarioID, or
// of every scenario when scenarioID is empty, and returns those removed.
// Removal continues past failures; all of them are returned joined.
func SweepContainers(ctx context.Context, cli *Client, scenarioID string, log *logrus.Entry) ([]model.ContainerInfo, error) {
	found, err := ListManagedContainers(ctx, cli, scenarioID)
	if err != nil {
		return nil, err
	}

	var (
		removed []model.ContainerInfo
		errs    []error
	)
	for _, c := range found {
		entry := log.WithFields(logrus.Fields{
			"container": shortID(c.ContainerID),
			"scenario":  c.ScenarioID,
			"status":    c.Status,
		})
		// Force also removes running containers; a container that vanished
		// since the list call counts as removed.
		err := cli.Inner().ContainerRemove(ctx, c.ContainerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
		if err != nil && !cerrdefs.IsNotFound(err) {
			entry.WithError(err).Warn("failed to remove container")
			errs = append(errs, fmt.Errorf("remove %s: %w", shortID(c.ContainerID), err))
			continue
		}
		entry.Info("removed leftover container")
		removed = append(removed, c)
	}

	if len(errs) > 0 {
		return removed, model.WrapHarnessError(model.ExitProcessError,
			fmt.Sprintf("failed to remove %d container(s)", len(errs)), errors.Join(errs...))
	}
	return removed, nil
}

// summaryToInfo maps an SDK list entry to model.ContainerInfo. Docker
// reports names with a leading "/", which is dropped.
func summaryToInfo(c container.Summary) model.ContainerInfo {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	return model.ContainerInfo{
		ContainerID:   c.ID,
		ContainerName: name,
		ScenarioID:    c.Labels[LabelScenario],
		Key:           c.Labels[LabelKey],
		Status:        string(c.State),
		Labels:        c.Labels,
	}
}

// isGone reports errors meaning the container no longer needs the
// requested action: it does not exist or is not running.
func isGone(err error) bool {
	return cerrdefs.IsNotFound(err) || cerrdefs.IsConflict(err)
}

// shortID truncates a container ID the way the docker CLI prints it.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
