// Package workspace manages the temporary directory a scenario runs in.
//
// The workspace stands in for the persistent storage location of the
// system under test. It is created fresh for each scenario, removed when
// the scenario passes and left on disk when it fails.
//
// Layout of a workspace (names are configurable):
//
//	/tmp/ramen_cucumber_tests_XXXXXX/
//	├── ramen_persist_dir/   persistence directory, created by ramen itself
//	└── logs/
//	    ├── daemon-1.log     stdout and stderr of the first spawned daemon
//	    └── daemon-2.log
//
// Nothing in this package knows about scenarios; it only deals with paths.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval backs up fsnotify in WaitFor: some filesystems (network
// mounts, overlayfs in CI containers) deliver no events at all.
const pollInterval = 250 * time.Millisecond

// Workspace is a scenario-scoped temporary directory.
type Workspace struct {
	// root is absolute and symlink-free.
	root string
}

// New creates a fresh, uniquely named directory under the system temporary
// directory. The name starts with prefix.
func New(prefix string) (*Workspace, error) {
	// MkdirTemp appends a random suffix and creates the directory with
	// mode 0700.
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	// Resolve symlinks (macOS /var → /private/var) so the path compares
	// equal to os.Getwd() once the scenario has changed into it.
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	return &Workspace{root: dir}, nil
}

// Root returns the absolute path of the workspace directory.
func (w *Workspace) Root() string { return w.root }

// Path joins rel onto the workspace root. Absolute paths are returned as is.
func (w *Workspace) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(w.root, rel)
}

// Exists reports whether rel exists inside the workspace. Any stat error
// counts as absent.
func (w *Workspace) Exists(rel string) bool {
	_, err := os.Stat(w.Path(rel))
	return err == nil
}

// MkdirAll creates rel and its parents inside the workspace.
func (w *Workspace) MkdirAll(rel string) (string, error) {
	p := w.Path(rel)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", p, err)
	}
	return p, nil
}

// Remove deletes the workspace recursively. Removing an already removed
// workspace succeeds.
func (w *Workspace) Remove() error {
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("remove workspace %s: %w", w.root, err)
	}
	return nil
}

// WaitFor blocks until rel exists or ctx is done.
//
// Daemons of the system under test create their files asynchronously; steps
// use WaitFor instead of sleeping. The deepest existing ancestor of the
// target is watched with fsnotify and re-evaluated on every event, so
// targets several directories deep are found as their parents appear.
func (w *Workspace) WaitFor(ctx context.Context, rel string) error {
	target := w.Path(rel)

	// Step 1: one watcher for the whole wait. It is moved to a deeper
	// directory as the target's parents appear.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", target, err)
	}
	defer watcher.Close()

	// Step 2: the poll ticker wakes the loop even without events.
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// Step 3: watch, check, sleep until something happens, repeat.
	watched := ""
	for {
		// Add the watch before checking, so a creation between the two
		// cannot be missed.
		if dir := deepestExisting(filepath.Dir(target)); dir != watched {
			// Only one directory is watched at a time.
			if watched != "" {
				_ = watcher.Remove(watched)
			}
			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("watch %s: %w", dir, err)
			}
			watched = dir
		}

		// The target may be a file or a directory; either satisfies the wait.
		if _, err := os.Stat(target); err == nil {
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", target, err)
		}

		// Events carry no information we need: any event or tick leads to
		// a fresh check above.
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", target, ctx.Err())
		case _, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watch %s: watcher closed", target)
			}
		case err, ok := <-watcher.Errors:
			// Queue overflows are reported here; polling still finds the
			// target, but the error is surfaced as the watcher is unusable.
			if ok && err != nil {
				return fmt.Errorf("watch %s: %w", target, err)
			}
		case <-ticker.C:
		}
	}
}

// deepestExisting walks up from dir until it finds a directory that exists.
// The filesystem root always exists, which ends the walk.
func deepestExisting(dir string) string {
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

// Sweep removes the workspaces left in parent by earlier runs: every
// directory whose name starts with prefix. An empty parent means the system
// temporary directory. It returns the removed paths; removal continues past
// failures.
func Sweep(parent, prefix string) ([]string, error) {
	// New creates workspaces in os.TempDir, so that is where leftovers are.
	if parent == "" {
		parent = os.TempDir()
	}
	if prefix == "" {
		return nil, errors.New("sweep: empty workspace prefix would match every directory")
	}

	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, fmt.Errorf("sweep %s: %w", parent, err)
	}

	var (
		removed []string
		errs    []error
	)
	// Only directories; a stray file with the prefix is not a workspace.
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		p := filepath.Join(parent, e.Name())
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
			continue
		}
		removed = append(removed, p)
	}
	return removed, errors.Join(errs...)
}
