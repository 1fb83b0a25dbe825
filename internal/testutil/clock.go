package testutil

import (
	"sync/atomic"
	"time"
)

// TestClock is a manually advanced clock. It is safe to read from concurrent goroutines.
type TestClock struct {
	currentTime atomic.Int64
}

// NewTestClock returns a TestClock starting at the start time.
func NewTestClock(start time.Time) *TestClock {
	c := &TestClock{}
	c.currentTime.Store(start.UnixNano())
	return c
}

func (t *TestClock) CurrentUnixNano() int64 {
	return t.currentTime.Load()
}

func (t *TestClock) Now() time.Time {
	return time.Unix(0, t.currentTime.Load())
}

// Advance moves the clock forward by the duration and returns the new time.
func (t *TestClock) Advance(d time.Duration) time.Time {
	return time.Unix(0, t.currentTime.Add(d.Nanoseconds()))
}

// Set moves the clock to the time.
func (t *TestClock) Set(now time.Time) {
	t.currentTime.Store(now.UnixNano())
}
