package engine

import "sync/atomic"

// Clock stamps lifecycle events with a strictly increasing sequence number
// and counts ticks. Journal ordering uses the sequence, never wall time.
//
// Thread-safety: safe for concurrent reads. Only the driving loop advances it.
type Clock struct {
	seq  atomic.Int64
	tick atomic.Uint64
}

// NewClock creates a clock at sequence 0, tick 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next stamp follows start. Used when a
// journal already holds events from an earlier run.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Stamp returns the next sequence number.
func (c *Clock) Stamp() int64 {
	return c.seq.Add(1)
}

// Seq returns the last issued sequence number.
func (c *Clock) Seq() int64 {
	return c.seq.Load()
}

// Advance starts a new tick and returns its number (first tick is 1).
func (c *Clock) Advance() uint64 {
	return c.tick.Add(1)
}

// Tick returns the number of the current tick, 0 before the first one.
func (c *Clock) Tick() uint64 {
	return c.tick.Load()
}
