package port

import (
	"fmt"
	"net"
)

// Scanner checks whether ports are free on the host running the scenario.
//
// It asks the operating system directly with net.Listen / net.ListenPacket
// rather than parsing /proc/net/* or calling `ss`, which may need elevated
// permissions on CI machines.
type Scanner struct{}

// NewScanner creates a new Scanner instance.
func NewScanner() *Scanner {
	return &Scanner{}
}

// IsPortAvailable checks whether a single port is free.
//
// It binds ":port" on all interfaces, because daemons of the system under
// test (httpd, the collectd and fprobe listeners) bind the wildcard address
// by default. The probe is closed immediately.
//
// Unknown protocols are reported as unavailable.
func (s *Scanner) IsPortAvailable(port int, protocol string) bool {
	addr := fmt.Sprintf(":%d", port)

	switch protocol {
	case "tcp":
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		defer func() { _ = listener.Close() }()
		return true

	case "udp":
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return false
		}
		defer func() { _ = conn.Close() }()
		return true

	default:
		return false
	}
}

// FindAvailablePort scans [startPort, endPort] (inclusive) upward and
// returns the first free port for protocol.
func (s *Scanner) FindAvailablePort(startPort, endPort int, protocol string) (int, error) {
	for port := startPort; port <= endPort; port++ {
		if s.IsPortAvailable(port, protocol) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available %s port found in range %d-%d", protocol, startPort, endPort)
}
