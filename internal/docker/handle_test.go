package docker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/ramen-harness/internal/process"
)

// fakeDaemon serves the part of the Docker Engine API a ContainerHandle
// uses. A zero status means success.
type fakeDaemon struct {
	killStatus   int
	waitStatus   int
	waitCode     int
	removeStatus int

	mu    sync.Mutex
	calls []string
}

func (d *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Version negotiation hits the unversioned endpoint.
	if r.URL.Path == "/_ping" {
		w.Header().Set("API-Version", "1.47")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Drop the /v1.xx prefix.
	path := r.URL.Path
	if i := strings.Index(path, "/containers/"); i >= 0 {
		path = path[i:]
	}
	call := r.Method + " " + path
	if sig := r.URL.Query().Get("signal"); sig != "" {
		call += " " + sig
	}
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/kill"):
		reply(w, d.killStatus, nil)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/wait"):
		reply(w, d.waitStatus, map[string]int{"StatusCode": d.waitCode})
	case r.Method == http.MethodDelete:
		reply(w, d.removeStatus, nil)
	default:
		reply(w, http.StatusNotFound, nil)
	}
}

// Calls returns the container requests received so far.
func (d *fakeDaemon) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// reply writes an Engine API response. Errors carry a JSON message like the
// real daemon's.
func reply(w http.ResponseWriter, status int, body interface{}) {
	if status >= http.StatusBadRequest {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": http.StatusText(status)})
		return
	}
	if body == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// newFakeClient starts d and returns a Client pointed at it.
func newFakeClient(t *testing.T, d *fakeDaemon) *Client {
	t.Helper()
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)

	c, err := NewClient("tcp://" + strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// TestContainerHandle_SignalGone verifies that signalling a container that
// was removed or already stopped is not an error.
func TestContainerHandle_SignalGone(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "running", status: 0},
		{name: "not found", status: http.StatusNotFound},
		{name: "not running", status: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDaemon{killStatus: tt.status}
			h := NewContainerHandle(newFakeClient(t, d), "abc", false)

			assert.NoError(t, h.Stop())
			assert.NoError(t, h.Kill())
			assert.Equal(t, []string{
				"POST /containers/abc/kill SIGINT",
				"POST /containers/abc/kill SIGKILL",
			}, d.Calls())
		})
	}
}

// TestContainerHandle_SignalFailure verifies that other daemon errors are
// reported.
func TestContainerHandle_SignalFailure(t *testing.T) {
	d := &fakeDaemon{killStatus: http.StatusInternalServerError}
	h := NewContainerHandle(newFakeClient(t, d), "abc", false)

	err := h.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIGINT")
	assert.Contains(t, err.Error(), "abc")
}

// TestContainerHandle_WaitAutoRemove verifies that Wait records the exit
// status and removes the container afterwards.
func TestContainerHandle_WaitAutoRemove(t *testing.T) {
	d := &fakeDaemon{waitCode: 3}
	h := NewContainerHandle(newFakeClient(t, d), "abc", true)

	require.NoError(t, h.Wait())
	assert.True(t, h.Exited())
	assert.Equal(t, 3, h.ExitCode(), "a nonzero container status is not an error")
	assert.Equal(t, []string{
		"POST /containers/abc/wait",
		"DELETE /containers/abc",
	}, d.Calls())
}

// TestContainerHandle_WaitRemoveGone verifies that a container removed by
// someone else in the meantime does not fail Wait.
func TestContainerHandle_WaitRemoveGone(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusConflict} {
		d := &fakeDaemon{removeStatus: status}
		h := NewContainerHandle(newFakeClient(t, d), "abc", true)

		assert.NoError(t, h.Wait(), "remove answered %d", status)
		assert.Equal(t, 0, h.ExitCode())
	}
}

// TestContainerHandle_WaitKeep verifies that without auto-remove the
// container is left in place.
func TestContainerHandle_WaitKeep(t *testing.T) {
	d := &fakeDaemon{}
	h := NewContainerHandle(newFakeClient(t, d), "abc", false)

	require.NoError(t, h.Wait())
	assert.Equal(t, []string{"POST /containers/abc/wait"}, d.Calls())
}

// TestContainerHandle_WaitGone verifies that waiting on a container that
// no longer exists returns without an exit status.
func TestContainerHandle_WaitGone(t *testing.T) {
	d := &fakeDaemon{waitStatus: http.StatusNotFound, removeStatus: http.StatusNotFound}
	h := NewContainerHandle(newFakeClient(t, d), "abc", true)

	require.NoError(t, h.Wait())
	assert.False(t, h.Exited())
	assert.Equal(t, -1, h.ExitCode())
}

// TestContainerHandle_Drain verifies that a registry drains a container
// that is already gone without error, and in stop-then-join order.
func TestContainerHandle_Drain(t *testing.T) {
	d := &fakeDaemon{killStatus: http.StatusConflict, waitCode: 130}
	h := NewContainerHandle(newFakeClient(t, d), "abc", true)

	r := process.NewRegistry()
	r.Register("ramen:latest ramen httpd", h)
	require.NoError(t, r.Drain(context.Background()))

	assert.Equal(t, 130, h.ExitCode())
	assert.Equal(t, []string{
		"POST /containers/abc/kill SIGINT",
		"POST /containers/abc/wait",
		"DELETE /containers/abc",
	}, d.Calls())
}
