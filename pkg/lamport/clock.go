package lamport

import (
	"math"
	"sync"
)

// Max is the largest clock value. Tick and Observe stop at Max instead of
// wrapping to zero, so a received timestamp equal to Max cannot be advanced
// past and callers reject it before observing.
const Max uint64 = math.MaxUint64

// Clock is a process-local Lamport counter.
type Clock struct {
	mu   sync.Mutex
	time uint64
}

// New returns a Clock starting at initial. Pass 0 for a fresh clock.
func New(initial uint64) *Clock {
	return &Clock{time: initial}
}

// Peek returns the current value without advancing the clock.
func (c *Clock) Peek() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

// Tick advances the clock for a local or send event and returns the new value.
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.time < Max {
		c.time++
	}
	return c.time
}

// Observe folds a received timestamp into the clock and returns the new value,
// which is strictly greater than both the previous value and remote as long
// as neither is Max.
func (c *Clock) Observe(remote uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remote > c.time {
		c.time = remote
	}
	if c.time < Max {
		c.time++
	}
	return c.time
}

// Set overwrites the clock value. It exists for rolling back an operation
// whose persistence failed and must not be used to move the clock backwards
// past a value that has been sent to another process.
func (c *Clock) Set(v uint64) {
	c.mu.Lock()
	c.time = v
	c.mu.Unlock()
}
