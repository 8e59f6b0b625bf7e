package port

import (
	"fmt"
	"sync"

	"github.com/mmr-tortoise/ramen-harness/internal/model"
)

const (
	// DefaultRangeStart and DefaultRangeEnd bound the ports handed to
	// daemons when the configuration does not say otherwise. The range sits
	// below the Linux ephemeral range (32768-60999) so outgoing connections
	// of the test process itself never take a port a daemon is about to bind.
	DefaultRangeStart = 20000
	DefaultRangeEnd   = 32000

	maxPort = 65535
)

// Allocator hands out free ports to the daemons of one scenario.
//
// A port is free when the OS lets the scanner bind it and the allocator has
// not already handed it out. Between allocation and the daemon binding the
// port nothing holds it, so the allocator continues scanning from the last
// allocated port instead of starting over: a port given to a daemon that has
// not started listening yet is never returned again.
type Allocator struct {
	scanner *Scanner

	start, end int

	mu       sync.Mutex
	next     int
	reserved map[int]bool
}

// NewAllocator creates an Allocator scanning [start, end] (inclusive).
func NewAllocator(scanner *Scanner, start, end int) (*Allocator, error) {
	if start < 1 || end > maxPort || start > end {
		return nil, model.NewHarnessError(model.ExitConfigError,
			fmt.Sprintf("invalid port range %d-%d (must be within 1-%d)", start, end, maxPort))
	}
	return &Allocator{
		scanner:  scanner,
		start:    start,
		end:      end,
		next:     start,
		reserved: make(map[int]bool),
	}, nil
}

// Allocate returns a port free for protocol ("tcp" or "udp", default tcp)
// that this allocator has not handed out before.
func (a *Allocator) Allocate(protocol string) (int, error) {
	if protocol == "" {
		protocol = "tcp"
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// One full lap over the range, starting where the last call stopped.
	size := a.end - a.start + 1
	for i := 0; i < size; i++ {
		port := a.start + (a.next-a.start+i)%size
		if a.reserved[port] || !a.scanner.IsPortAvailable(port, protocol) {
			continue
		}
		a.reserved[port] = true
		// Wrap around at the end of the range.
		a.next = port + 1
		if a.next > a.end {
			a.next = a.start
		}
		return port, nil
	}

	return 0, fmt.Errorf("no available %s port found in range %d-%d", protocol, a.start, a.end)
}

// Release makes port available to Allocate again.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, port)
}

// Reserved returns the number of ports currently handed out.
func (a *Allocator) Reserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reserved)
}
