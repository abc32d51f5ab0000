package clock

import (
	"sync"
	"time"
)

// FakeClock is a Clock moved only by the test. Safe for use from the worker
// pool goroutines.
type FakeClock struct {
	mu  sync.RWMutex
	now time.Time
}

var _ Clock = (*FakeClock)(nil)

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start.UTC()}
}

func (c *FakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) { c.Set(c.Now().Add(d)) }

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}
