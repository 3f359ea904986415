// Package portpool allocates even-numbered UDP ports for RTP sessions
// from a configured range, as required by RFC 3550 (RTCP on port+1).
package portpool

import (
	"fmt"
	"sync"
)

// Range is an inclusive [Min, Max] port range.
type Range struct {
	Min, Max int
}

// Pool hands out even ports from Range and tracks which are in use.
type Pool struct {
	r Range

	mu       sync.Mutex
	used     map[int]bool
	nextPort int
}

// New creates a Pool over r, validating that it spans at least one even
// port.
func New(r Range) (*Pool, error) {
	if r.Min <= 0 || r.Max <= 0 || r.Min > r.Max {
		return nil, fmt.Errorf("portpool: invalid range %d-%d", r.Min, r.Max)
	}
	start := r.Min
	if start%2 != 0 {
		start++
	}
	if start > r.Max {
		return nil, fmt.Errorf("portpool: range %d-%d has no even port", r.Min, r.Max)
	}
	return &Pool{
		r:        r,
		used:     make(map[int]bool),
		nextPort: start,
	}, nil
}

// Allocate returns the next free even port, round-robin from the last
// allocation, or an error when the range is exhausted.
func (p *Pool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.nextPort
	for {
		port := p.nextPort
		if !p.used[port] {
			p.used[port] = true
			p.advance()
			return port, nil
		}
		p.advance()
		if p.nextPort == start {
			return 0, fmt.Errorf("portpool: no free even port in %d-%d", p.r.Min, p.r.Max)
		}
	}
}

func (p *Pool) advance() {
	p.nextPort += 2
	if p.nextPort > p.r.Max {
		start := p.r.Min
		if start%2 != 0 {
			start++
		}
		p.nextPort = start
	}
}

// Release returns port to the free set. Releasing a port not currently
// allocated is a no-op.
func (p *Pool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, port)
}

// InUse reports whether port is currently allocated.
func (p *Pool) InUse(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used[port]
}
