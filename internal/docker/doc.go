// Package docker runs daemons of the system under test in Docker containers
// and cleans up the containers a harness run left behind.
//
// This package handles:
//   - Docker client initialization with socket detection (Linux, macOS,
//     Windows) or an explicit host from the configuration
//   - Labels recording which scenario started a container; they are the
//     only state, so a later sweep can find leftovers of an interrupted run
//   - ContainerHandle, which lets a container be registered and drained
//     like any other daemon
//
// The package uses github.com/docker/docker/client with API version
// negotiation enabled.
package docker
