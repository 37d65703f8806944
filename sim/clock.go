package sim

import (
	"sync/atomic"
	"time"

	"gaugecluster/core"
)

// ManualClock is a virtual microsecond clock. Every Now call advances it by
// Step, so a polling loop sees time pass at a fixed rate per iteration
// without sleeping.
type ManualClock struct {
	now  atomic.Uint32
	step uint32
}

// NewManualClock creates a clock starting at start that advances by step
// microseconds on every read
func NewManualClock(start, step uint32) *ManualClock {
	c := &ManualClock{step: step}
	c.now.Store(start)
	return c
}

// Now implements core.Clock
func (c *ManualClock) Now() uint32 {
	return c.now.Add(c.step) - c.step
}

// Peek returns the current time without advancing
func (c *ManualClock) Peek() uint32 {
	return c.now.Load()
}

// Advance moves the clock forward by us microseconds
func (c *ManualClock) Advance(us uint32) {
	c.now.Add(us)
}

// Set jumps to an absolute time
func (c *ManualClock) Set(us uint32) {
	c.now.Store(us)
}

// WallClock returns a clock backed by the host's monotonic time, truncated
// to the wrapping 32-bit microsecond counter the firmware uses
func WallClock() core.Clock {
	start := time.Now()
	return core.ClockFunc(func() uint32 {
		return uint32(time.Since(start).Microseconds())
	})
}
