// Package logging configures the harness logger.
//
// The harness logs through logrus to stderr. Its own output must never mix
// with the captured output of the programs under test, which is why stdout
// is left alone.
//
// What the harness logs at each level:
//   - debug: commands run, scenario enter/exit, daemon registration
//   - info: daemons and containers started, leftovers swept
//   - warn: workspaces kept after a failure, daemons that needed SIGKILL
//
// Teardown failures are returned as errors, not logged.
//
// Components never call logrus package functions directly for scenario
// work; they receive a *logrus.Entry so fields such as the scenario ID are
// attached once.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Configure sets the level and format of the standard logrus logger and
// returns it. An unknown level falls back to info with a warning.
func Configure(level string, verbose bool) *logrus.Logger {
	return configure(logrus.StandardLogger(), os.Stderr, level, verbose)
}

// New returns a separate logger writing to w, configured like Configure.
// Tests use it to capture log output:
//
//	var buf bytes.Buffer
//	log := logging.New(&buf, "debug")
//	l, _ := scenario.NewLifecycle(cfg, scenario.WithLogger(logrus.NewEntry(log)))
func New(w io.Writer, level string) *logrus.Logger {
	return configure(logrus.New(), w, level, false)
}

// configure applies output, format and level to log.
func configure(log *logrus.Logger, w io.Writer, level string, verbose bool) *logrus.Logger {
	log.SetOutput(w)
	// Full timestamps make kept daemon logs and harness logs comparable.
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// --verbose overrides the configured level.
	if verbose {
		log.SetLevel(logrus.DebugLevel)
		return log
	}

	// config.Validate already rejects bad levels; this guards callers that
	// bypass it, such as tests.
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		log.SetLevel(logrus.InfoLevel)
		log.Warnf("invalid log level %q, defaulting to info", level)
		return log
	}
	log.SetLevel(parsed)
	return log
}
