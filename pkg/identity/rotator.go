// Package identity cycles through a fixed pool of client identities
// (User-Agent strings) so consecutive lookups do not share a fingerprint.
package identity

import (
	"errors"
	"sync"
)

// ErrEmptyPool is returned when a Rotator is created without identities.
var ErrEmptyPool = errors.New("identity pool must contain at least one entry")

// DefaultUserAgents is a small pool of common desktop browser identities.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// Rotator hands out identities from a fixed pool in round-robin order.
// It is safe for concurrent use.
type Rotator struct {
	mu     sync.Mutex
	pool   []string
	cursor int
}

// New creates a Rotator over a copy of pool, starting at the first entry.
func New(pool []string) (*Rotator, error) {
	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}

	cp := make([]string, len(pool))
	copy(cp, pool)

	return &Rotator{pool: cp}, nil
}

// Current returns the identity under the cursor.
func (r *Rotator) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool[r.cursor]
}

// Rotate advances the cursor and returns the new identity.
func (r *Rotator) Rotate() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = (r.cursor + 1) % len(r.pool)
	return r.pool[r.cursor]
}

// Len returns the pool size.
func (r *Rotator) Len() int {
	return len(r.pool)
}
