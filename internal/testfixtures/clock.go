package testfixtures

import (
	"sync"
	"time"
)

// Clock provides a controllable time source for tests. Lifecycle timestamps,
// cache TTLs, and expiry sweeps all read it through NowFunc, so a test can
// walk a meeting through its day without waiting.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock returns a clock initialised to the supplied time. When start is the
// zero value, the clock opens at ReferenceTime, the start of the fixtures'
// working day.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

// Now returns the current instant tracked by the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc exposes Now as a function suitable for dependency injection.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Set updates the clock to the provided time.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward by the provided duration and returns the
// updated time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.current = c.current.Add(d)
	updated := c.current
	c.mu.Unlock()
	return updated
}

// AdvanceTo moves the clock forward to the provided instant, typically a
// candidate slot boundary. Instants at or before the current time are
// ignored; the clock never runs backwards.
func (c *Clock) AdvanceTo(t time.Time) time.Time {
	c.mu.Lock()
	if t.After(c.current) {
		c.current = t
	}
	updated := c.current
	c.mu.Unlock()
	return updated
}
