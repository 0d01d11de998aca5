// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"sync"
	"time"
)

// FakeClock is a manually driven time source. Every call to Now advances
// the clock by the configured step, so successive timestamps are distinct
// and predictable.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

// NewFakeClock starts at initial, or at 2020-01-01 UTC when initial is zero.
func NewFakeClock(initial time.Time, step time.Duration) *FakeClock {
	if initial.IsZero() {
		initial = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &FakeClock{current: initial, step: step}
}

// Now returns the current fake time, then advances it by one step.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}
