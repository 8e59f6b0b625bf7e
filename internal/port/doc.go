// Package port finds free ports for the daemons a scenario starts.
//
// Daemons of the system under test (httpd, network listeners) need a port
// to bind, and two scenarios' worth of daemons must never fight over one.
// The Scanner verifies OS-level availability via net.Listen(); the
// Allocator adds per-scenario bookkeeping so the same port is never handed
// out twice before its daemon has had a chance to bind it.
package port
