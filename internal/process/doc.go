// Package process tracks the long-running daemons a scenario starts and
// guarantees none of them outlives it.
//
// A Registry is owned by one scenario and follows the lifecycle
// create → Register* → Drain → discard. Drain asks every tracked Handle to
// stop (a non-blocking interrupt request) and then joins each of them, so a
// scenario's daemons shut down in parallel while teardown still blocks until
// all of them are gone.
//
// ExecHandle is the Handle for local processes. Each one runs its command
// line under `sh -c` as the leader of a new process group, and its signals
// go to the group, so a shell that waits on its children cannot shield them
// from Stop or Kill. Other packages provide
// handles for other kinds of daemons (see internal/docker).
package process
