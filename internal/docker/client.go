package docker

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/docker/docker/client"

	"github.com/mmr-tortoise/ramen-harness/internal/model"
)

// defaultPingTimeout bounds Ping. Docker Desktop on macOS can be slow to
// answer.
const defaultPingTimeout = 5 * time.Second

// HostSource records where the daemon address of a Client came from.
type HostSource string

const (
	// HostFromConfig is the docker.host setting of the harness configuration.
	HostFromConfig HostSource = "config"

	// HostFromEnv is DOCKER_HOST, together with DOCKER_TLS_VERIFY,
	// DOCKER_CERT_PATH and DOCKER_API_VERSION.
	HostFromEnv HostSource = "environment"

	// HostDetected is a platform default socket found on disk.
	HostDetected HostSource = "detected"
)

// Client wraps the Docker Engine SDK client for the harness. It remembers
// which daemon it talks to and why, so logs and errors can say so.
//
//	c, err := docker.NewClient(cfg.Docker.Host)
//	if err != nil { /* handle */ }
//	defer c.Close()
//	if err := c.Ping(ctx); err != nil { /* Docker not running */ }
type Client struct {
	inner  *client.Client
	host   string
	source HostSource
}

// NewClient creates a Docker client for the daemon chosen by ResolveHost.
//
// A configured host is used as-is, without TLS. DOCKER_HOST is handed to
// the SDK's own environment handling, so a remote daemon configured for the
// docker CLI works unchanged. API version negotiation is always on unless
// DOCKER_API_VERSION pins a version.
//
// Errors are model.HarnessError values: ExitConfigError for a malformed
// host, ExitDockerNotRunning when no daemon address can be found or the
// client cannot be built.
func NewClient(host string) (*Client, error) {
	// Step 1: decide which daemon to talk to.
	resolved, source, err := ResolveHost(host)
	if err != nil {
		return nil, err
	}

	// Step 2: translate the decision into SDK options. Negotiation comes
	// first so that FromEnv can still pin DOCKER_API_VERSION.
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if source == HostFromEnv {
		opts = append(opts, client.FromEnv)
	} else {
		opts = append(opts, client.WithHost(resolved))
	}

	// Step 3: build the client. Nothing is dialled yet; Ping does that.
	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, model.WrapHarnessError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create Docker client for host %q (%s)", resolved, source),
			err,
		)
	}

	return &Client{inner: c, host: c.DaemonHost(), source: source}, nil
}

// ResolveHost picks the daemon address in order of precedence:
//  1. configured, the docker.host setting, when non-empty;
//  2. the DOCKER_HOST environment variable;
//  3. the first platform default socket that exists:
//     - Linux: /var/run/docker.sock
//     - macOS: /var/run/docker.sock, then ~/.docker/run/docker.sock
//     - Windows: npipe:////./pipe/docker_engine
//
// An explicit address (1 or 2) is validated but not probed.
func ResolveHost(configured string) (string, HostSource, error) {
	if configured != "" {
		if _, err := client.ParseHostURL(configured); err != nil {
			return "", "", model.WrapHarnessError(
				model.ExitConfigError,
				fmt.Sprintf("invalid docker.host %q", configured),
				err,
			)
		}
		return configured, HostFromConfig, nil
	}

	if env := os.Getenv(client.EnvOverrideHost); env != "" {
		if _, err := client.ParseHostURL(env); err != nil {
			return "", "", model.WrapHarnessError(
				model.ExitConfigError,
				fmt.Sprintf("invalid %s %q", client.EnvOverrideHost, env),
				err,
			)
		}
		return env, HostFromEnv, nil
	}

	detected, err := detectDockerHost()
	if err != nil {
		return "", "", model.WrapHarnessError(
			model.ExitDockerNotRunning,
			"Docker socket not found",
			err,
		)
	}
	return detected, HostDetected, nil
}

// detectDockerHost returns the first known Docker socket present on this
// platform. Existence is enough here; Ping checks the daemon.
func detectDockerHost() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return detectUnixSocket([]string{"/var/run/docker.sock"})

	case "darwin":
		// Newer Docker Desktop releases may skip the /var/run symlink.
		paths := []string{"/var/run/docker.sock"}
		if homeDir, err := os.UserHomeDir(); err == nil {
			paths = append(paths, homeDir+"/.docker/run/docker.sock")
		}
		return detectUnixSocket(paths)

	case "windows":
		// os.Stat does not work on named pipes, so dial briefly instead.
		pipePath := `//./pipe/docker_engine`
		conn, err := net.DialTimeout("pipe", pipePath, 1*time.Second)
		if err == nil {
			conn.Close()
			return "npipe://" + pipePath, nil
		}
		return "", fmt.Errorf("Docker named pipe not found at %s: %w", pipePath, err)

	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// detectUnixSocket returns the host URI of the first existing path.
func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf(
		"Docker socket not found at any of: %v (is Docker running?)",
		paths,
	)
}

// Ping verifies that the Docker daemon responds within defaultPingTimeout.
// Returns a model.HarnessError with ExitDockerNotRunning otherwise; the
// message names the host and where it came from.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if _, err := c.inner.Ping(pingCtx); err != nil {
		return model.WrapHarnessError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("Docker daemon at %s (%s) is not responding (is Docker running?)", c.host, c.source),
			err,
		)
	}
	return nil
}

// Host returns the daemon address the client talks to.
func (c *Client) Host() string { return c.host }

// Source returns where Host came from.
func (c *Client) Source() HostSource { return c.source }

// Close releases the client. It is safe to call more than once.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}

// Inner returns the underlying SDK client.
func (c *Client) Inner() *client.Client {
	return c.inner
}
