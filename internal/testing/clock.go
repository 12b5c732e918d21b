package testing

import (
	"sync"
	"time"
)

// FakeClock is a settable clock for engine tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// At returns a clock set to the given wall time in loc.
func At(year int, month time.Month, day, hour, min int, loc *time.Location) *FakeClock {
	if loc == nil {
		loc = time.UTC
	}
	return NewFakeClock(time.Date(year, month, day, hour, min, 0, 0, loc))
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
