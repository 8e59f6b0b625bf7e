package scenario

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/mmr-tortoise/ramen-harness/internal/config"
)

// ConfigureProcess prepares the process environment once, before the first
// scenario: runtime-diagnostic variables are cleared and the pinned
// variables are set, so every program started afterwards inherits a
// reproducible environment.
func ConfigureProcess(env config.EnvironmentConfig) error {
	// Variables such as OCAMLRUNPARAM change what the programs print on
	// failure, so they are removed rather than set to a neutral value.
	var errs []error
	for _, name := range env.Unset {
		if err := os.Unsetenv(name); err != nil {
			errs = append(errs, fmt.Errorf("unset %s: %w", name, err))
		}
	}

	// Sorted for deterministic error order.
	names := make([]string, 0, len(env.Pinned))
	for name := range env.Pinned {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := os.Setenv(name, env.Pinned[name]); err != nil {
			errs = append(errs, fmt.Errorf("set %s: %w", name, err))
		}
	}
	// No restore: these values hold for the lifetime of the harness.
	return errors.Join(errs...)
}

// savedVar is the value a variable had before the overlay changed it.
type savedVar struct {
	name    string
	value   string
	present bool
}

// envOverlay sets process environment variables for the duration of one
// scenario and puts the previous values back afterwards.
type envOverlay struct {
	// saved is in first-Set order; Restore walks it backwards.
	saved []savedVar
	seen  map[string]bool
}

func newEnvOverlay() *envOverlay {
	return &envOverlay{seen: make(map[string]bool)}
}

// Set sets name to value. Only the value before the first Set of a name
// is remembered.
func (o *envOverlay) Set(name, value string) error {
	// A later Set would otherwise record the overlay's own value as the
	// original.
	if !o.seen[name] {
		prev, ok := os.LookupEnv(name)
		o.saved = append(o.saved, savedVar{name: name, value: prev, present: ok})
		o.seen[name] = true
	}
	if err := os.Setenv(name, value); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}

// Restore puts back every remembered value, unsetting variables that did
// not exist. The overlay is empty afterwards.
func (o *envOverlay) Restore() error {
	var errs []error
	for i := len(o.saved) - 1; i >= 0; i-- {
		v := o.saved[i]
		// Set-to-empty and unset differ for the programs under test.
		var err error
		if v.present {
			err = os.Setenv(v.name, v.value)
		} else {
			err = os.Unsetenv(v.name)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", v.name, err))
		}
	}
	// Reset so a second Restore is a no-op.
	o.saved = nil
	o.seen = make(map[string]bool)
	return errors.Join(errs...)
}
