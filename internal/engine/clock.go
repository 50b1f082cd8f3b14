package engine

import "sync/atomic"

// Clock hands out event sequence numbers.
//
// A publisher and the subscribers observing it may share one Clock, which
// makes Seq a total order over everything they report. Safe for concurrent
// use.
type Clock struct {
	last atomic.Int64
}

// NewClock returns a clock whose first sequence number is 1.
func NewClock() *Clock {
	return &Clock{}
}

// ResumeClock returns a clock that continues after last, for appending to
// an existing timeline.
func ResumeClock(last int64) *Clock {
	c := &Clock{}
	c.last.Store(last)
	return c
}

// Next reserves and returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.last.Add(1)
}

// Last returns the most recently reserved sequence number, or the resume
// point when none has been reserved.
func (c *Clock) Last() int64 {
	return c.last.Load()
}
