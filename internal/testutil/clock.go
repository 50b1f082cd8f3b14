// Package testutil holds deterministic stand-ins for the collaborators the
// engines read from: wall time, battery level and the location sampler.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the wall time ManualClock starts at by default.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// ManualClock is a wall clock that only moves when told to.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock reading start. A zero start means Epoch.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = Epoch
	}
	return &ManualClock{now: start}
}

// Now returns the current reading. It has the signature of time.Now so it
// can be passed wherever a wall clock function is expected.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new reading.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
