package port

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listenTCP binds an OS-assigned TCP port and returns it; the listener is
// closed when the test ends.
func listenTCP(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err, "failed to start test listener")
	t.Cleanup(func() { _ = ln.Close() })

	addr, ok := ln.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}

// TestIsPortAvailable_UsedPort verifies that a bound TCP port is reported as
// taken, the situation of a daemon left over from a previous scenario.
func TestIsPortAvailable_UsedPort(t *testing.T) {
	port := listenTCP(t)
	assert.False(t, NewScanner().IsPortAvailable(port, "tcp"))
}

// TestIsPortAvailable_UDP verifies UDP probing with a bound socket.
func TestIsPortAvailable_UDP(t *testing.T) {
	conn, err := net.ListenPacket("udp", ":0")
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	udpAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)
	assert.False(t, NewScanner().IsPortAvailable(udpAddr.Port, "udp"))
}

// TestIsPortAvailable_UnknownProtocol verifies the fail-safe for unknown
// protocols.
func TestIsPortAvailable_UnknownProtocol(t *testing.T) {
	assert.False(t, NewScanner().IsPortAvailable(50000, "sctp"))
}

// TestFindAvailablePort verifies a free port is found inside the range.
func TestFindAvailablePort(t *testing.T) {
	scanner := NewScanner()
	port, err := scanner.FindAvailablePort(50000, 50100, "tcp")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 50000)
	assert.LessOrEqual(t, port, 50100)
	assert.True(t, scanner.IsPortAvailable(port, "tcp"))
}

// TestFindAvailablePort_NoneAvailable verifies the error for a fully
// occupied range.
func TestFindAvailablePort_NoneAvailable(t *testing.T) {
	port := listenTCP(t)
	_, err := NewScanner().FindAvailablePort(port, port, "tcp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no available")
}
