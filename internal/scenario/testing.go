package scenario

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Start enters a scenario for the duration of t. The scenario exits when t
// completes, as failed if t failed, so the workspace of a failing test is
// kept on disk.
//
// Scenarios change the process working directory; tests using Start must
// not call t.Parallel.
func Start(t testing.TB, l *Lifecycle) *Scenario {
	t.Helper()

	s, err := l.Enter()
	require.NoError(t, err, "enter scenario")

	t.Cleanup(func() {
		if err := s.Exit(t.Failed()); err != nil {
			t.Errorf("exit scenario %s: %v", s.ID(), err)
		}
	})
	return s
}
