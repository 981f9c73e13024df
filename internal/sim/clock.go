package sim

import "sync/atomic"

// Clock holds the current simulation timestep.
//
// Timesteps are discrete and strictly increasing. The engine reads Current
// for the step being executed and calls Next once the step is recorded, so
// a run resumed from a snapshot at time t starts with NewClockAt(t + 1).
//
// Clock is safe for concurrent reads, though only the engine advances it.
type Clock struct {
	now atomic.Int64
}

// NewClock creates a clock at timestep 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock at a specific timestep.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.now.Store(start)
	return c
}

// Next advances the clock by one timestep and returns the new value.
func (c *Clock) Next() int64 {
	return c.now.Add(1)
}

// Current returns the current timestep without advancing.
func (c *Clock) Current() int64 {
	return c.now.Load()
}
