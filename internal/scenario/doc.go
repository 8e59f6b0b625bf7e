// Package scenario isolates black-box test scenarios of the ramen system.
//
// A Lifecycle runs scenarios one at a time. Entering a scenario creates a
// fresh workspace, points RAMEN_PERSIST_DIR (by default) into it and changes
// the process working directory to it. Programs run with Scenario.Run or
// started with Scenario.Spawn inherit both. Exiting drains every registered
// daemon, restores the working directory and environment, and removes the
// workspace unless the scenario failed.
//
// In Go tests, Start binds a scenario to a *testing.T:
//
//	func TestSupervisorStarts(t *testing.T) {
//		s := scenario.Start(t, lifecycle)
//		_, err := s.Spawn("ramen", "supervisor")
//		require.NoError(t, err)
//		require.NoError(t, s.WaitFor(ctx, "ramen_persist_dir/supervisor.pid"))
//	}
package scenario
