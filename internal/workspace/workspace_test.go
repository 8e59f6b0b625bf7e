package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w, err := New("ramen_harness_test_")
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Remove() })
	return w
}

// TestNew verifies that each workspace is a fresh, distinct directory.
func TestNew(t *testing.T) {
	a := newTestWorkspace(t)
	b := newTestWorkspace(t)

	assert.NotEqual(t, a.Root(), b.Root())
	assert.True(t, filepath.IsAbs(a.Root()))
	assert.True(t, strings.HasPrefix(filepath.Base(a.Root()), "ramen_harness_test_"))

	info, err := os.Stat(a.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

// TestPath verifies relative and absolute path handling.
func TestPath(t *testing.T) {
	w := newTestWorkspace(t)
	assert.Equal(t, filepath.Join(w.Root(), "persist", "conf"), w.Path("persist/conf"))
	assert.Equal(t, "/etc/hosts", w.Path("/etc/hosts"))
}

// TestRemove verifies recursive deletion and idempotency.
func TestRemove(t *testing.T) {
	w := newTestWorkspace(t)
	dir, err := w.MkdirAll("a/b/c")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644))
	assert.True(t, w.Exists("a/b/c/f"))

	require.NoError(t, w.Remove())
	_, err = os.Stat(w.Root())
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, w.Remove(), "removing twice succeeds")
}

// TestWaitFor_AlreadyThere verifies WaitFor returns at once for existing paths.
func TestWaitFor_AlreadyThere(t *testing.T) {
	w := newTestWorkspace(t)
	require.NoError(t, os.WriteFile(w.Path("ready"), nil, 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, w.WaitFor(ctx, "ready"))
}

// TestWaitFor_CreatedLater verifies that a file created in nested, not yet
// existing directories is detected.
func TestWaitFor_CreatedLater(t *testing.T) {
	w := newTestWorkspace(t)

	go func() {
		time.Sleep(100 * time.Millisecond)
		dir := w.Path("persist/workers/states")
		_ = os.MkdirAll(dir, 0o755)
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "out_ref"), []byte("ok"), 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, w.WaitFor(ctx, "persist/workers/states/out_ref"))
	assert.True(t, w.Exists("persist/workers/states/out_ref"))
}

// TestWaitFor_Timeout verifies the context bounds the wait.
func TestWaitFor_Timeout(t *testing.T) {
	w := newTestWorkspace(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := w.WaitFor(ctx, "never")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestSweep verifies that only directories with the prefix are removed.
func TestSweep(t *testing.T) {
	parent := t.TempDir()
	for _, name := range []string{"ramen_cucumber_tests_a", "ramen_cucumber_tests_b", "other"} {
		require.NoError(t, os.Mkdir(filepath.Join(parent, name), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(parent, "ramen_cucumber_tests_file"), nil, 0o644))

	removed, err := Sweep(parent, "ramen_cucumber_tests_")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(parent, "ramen_cucumber_tests_a"),
		filepath.Join(parent, "ramen_cucumber_tests_b"),
	}, removed)
	assert.DirExists(t, filepath.Join(parent, "other"))
	assert.FileExists(t, filepath.Join(parent, "ramen_cucumber_tests_file"), "plain files are left alone")
}

// TestSweep_EmptyPrefix verifies that an empty prefix is refused.
func TestSweep_EmptyPrefix(t *testing.T) {
	_, err := Sweep(t.TempDir(), "")
	assert.Error(t, err)
}
