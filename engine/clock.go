package engine

import (
	"sync/atomic"
	"time"
)

// SystemClock reads wall-clock time. It never reports a time earlier than
// one it already returned.
type SystemClock struct {
	last atomic.Uint64
}

// Now returns the current Unix time in seconds.
func (c *SystemClock) Now() uint64 {
	now := uint64(time.Now().Unix())
	for {
		last := c.last.Load()
		if now <= last {
			return last
		}
		if c.last.CompareAndSwap(last, now) {
			return now
		}
	}
}

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	now atomic.Uint64
}

// NewManualClock returns a clock stopped at now.
func NewManualClock(now uint64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(now)
	return c
}

// Now returns the current time of the clock.
func (c *ManualClock) Now() uint64 {
	return c.now.Load()
}

// Advance moves the clock forward by dt seconds.
func (c *ManualClock) Advance(dt uint64) {
	c.now.Add(dt)
}

// Set moves the clock to now, which may be in the past.
func (c *ManualClock) Set(now uint64) {
	c.now.Store(now)
}
