// Package testutil holds deterministic helpers shared by the scenario
// harness and package tests.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the wall time a ManualTime starts at.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// ManualTime is a wall clock that only moves when told to. Its Now method
// is passed to engine.WithNow so time budgets trigger deterministically.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualTime creates a clock reading Epoch.
func NewManualTime() *ManualTime {
	return &ManualTime{now: Epoch}
}

// Now returns the current reading.
func (c *ManualTime) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative durations are ignored so
// the clock never runs backwards.
func (c *ManualTime) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Elapsed returns the time advanced since Epoch.
func (c *ManualTime) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(Epoch)
}

// Reset moves the clock back to Epoch for test reuse.
func (c *ManualTime) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
}
