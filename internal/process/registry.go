package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry is one tracked daemon: the command line that launched it and its
// handle. Entries are owned by the registry from Register until Drain.
type Entry struct {
	Key    string
	Handle Handle
}

// Option configures a Registry.
type Option func(*Registry)

// WithStopTimeout bounds how long Drain waits for each daemon after the
// interrupt. When the timeout expires Drain kills handles that implement
// Killer and then keeps waiting. Zero (the default) waits indefinitely.
func WithStopTimeout(d time.Duration) Option {
	return func(r *Registry) { r.stopTimeout = d }
}

// WithLogger sets the logger used to report drained daemons.
func WithLogger(log *logrus.Entry) Option {
	return func(r *Registry) { r.log = log }
}

// Registry is the table of daemons started during one scenario.
//
// Keys need not be unique: registering the same command line twice tracks
// two independent entries, and Drain terminates both.
type Registry struct {
	// mu guards entries only; handles are called without holding it.
	mu      sync.Mutex
	entries []Entry

	stopTimeout time.Duration
	log         *logrus.Entry
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{log: logrus.NewEntry(logrus.StandardLogger())}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register starts tracking a daemon under key.
func (r *Registry) Register(key string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Key: key, Handle: h})
	r.log.WithField("key", key).Debug("daemon registered")
}

// Len returns the number of tracked daemons.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys returns the keys of all tracked daemons in registration order,
// duplicates included.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, len(r.entries))
	for i, e := range r.entries {
		keys[i] = e.Key
	}
	return keys
}

// Drain stops every tracked daemon, waits for each of them to exit, and
// empties the table. Draining an empty registry is a no-op.
//
// All stop requests are sent before the first wait. A failure on one entry
// never prevents the others from being drained; failures are joined into
// the returned error. A daemon that exited on its own before Drain is not a
// failure.
//
// ctx only bounds the escalation wait of a configured stop timeout; without
// one, Drain blocks until every daemon is gone.
func (r *Registry) Drain(ctx context.Context) error {
	// Take the whole table at once. Daemons registered while Drain runs
	// land in a fresh table and are left for the next Drain.
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}

	// Phase 1: interrupt everything, so the daemons shut down in parallel.
	var errs []error
	for _, e := range entries {
		if err := e.Handle.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %q: %w", e.Key, err))
		}
	}

	// Phase 2: join in registration order. An entry whose Stop failed is
	// still joined; it may exit on its own or be killed.
	for _, e := range entries {
		if err := r.join(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("wait %q: %w", e.Key, err))
			continue
		}
		r.log.WithField("key", e.Key).Debug("daemon drained")
	}

	return errors.Join(errs...)
}

// join waits for one entry, escalating to Kill after the stop timeout.
func (r *Registry) join(ctx context.Context, e Entry) error {
	if r.stopTimeout <= 0 {
		return e.Handle.Wait()
	}

	// Buffered so the goroutine can finish even if nobody receives.
	done := make(chan error, 1)
	go func() { done <- e.Handle.Wait() }()

	timer := time.NewTimer(r.stopTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
	case <-ctx.Done():
	}

	// Timed out or cancelled: escalate, then keep waiting so the daemon is
	// reaped before Drain returns.

	killer, ok := e.Handle.(Killer)
	if !ok {
		r.log.WithField("key", e.Key).Warn("daemon ignored interrupt and cannot be killed; still waiting")
		return <-done
	}

	r.log.WithField("key", e.Key).Warnf("daemon still running after %s; killing it", r.stopTimeout)
	if err := killer.Kill(); err != nil {
		return err
	}
	return <-done
}
