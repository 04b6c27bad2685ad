// Package clock implements a Lamport logical clock.
package clock

import (
	"math"
	"sync"
)

// Clock is a thread-safe Lamport clock. The zero value starts at 0 and is
// ready to use.
type Clock struct {
	mu   sync.Mutex
	time uint64
}

// New returns a clock at 0.
func New() *Clock {
	return &Clock{}
}

// Tick advances the clock for a local or send event and returns the new
// value.
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = inc(c.time)
	return c.time
}

// Merge applies a received timestamp: time = max(time, other) + 1.
func (c *Clock) Merge(other uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if other > c.time {
		c.time = other
	}
	c.time = inc(c.time)
	return c.time
}

// Time returns the current value without advancing it.
func (c *Clock) Time() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

// inc saturates at MaxUint64; wrapping to 0 would break causality.
func inc(t uint64) uint64 {
	if t == math.MaxUint64 {
		return t
	}
	return t + 1
}
