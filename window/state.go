package window

import (
	"sync/atomic"
	"time"

	"github.com/failsafe-go/admission/priority"
)

// State is the per-window state owned by a Policy. Policies that need their own state embed *Counters in a custom type,
// which promotes WindowCounters.
type State interface {
	// WindowCounters returns the sample counters backing the state.
	WindowCounters() *Counters
}

// Counters holds the sample counts for one window. Counters are mutated with atomics while the window is open, and are
// read-only once the window has been sealed by a rollover.
type Counters struct {
	start time.Time
	limit int64 // Max samples the window accepts, or 0 for unlimited

	requested atomic.Int64
	admitted  atomic.Int64
	histogram [priority.MaxOrdinal + 1]atomic.Int64

	sealed  atomic.Bool
	writers atomic.Int32
}

var _ State = &Counters{}

// NewCounters returns new Counters for a window that opens at the start time and accepts up to limit samples. A limit
// of 0 accepts an unlimited number of samples.
func NewCounters(start time.Time, limit int64) *Counters {
	return &Counters{
		start: start,
		limit: max(0, limit),
	}
}

func (c *Counters) WindowCounters() *Counters {
	return c
}

// StartTime returns the time the window opened.
func (c *Counters) StartTime() time.Time {
	return c.start
}

// Limit returns the max number of samples the window accepts, or 0 if unlimited.
func (c *Counters) Limit() int64 {
	return c.limit
}

// RequestedCount returns the number of samples recorded so far.
func (c *Counters) RequestedCount() int64 {
	return c.requested.Load()
}

// AdmittedCount returns the number of samples recorded so far that were admitted.
func (c *Counters) AdmittedCount() int64 {
	return c.admitted.Load()
}

// Sealed returns whether the window has been rolled over.
func (c *Counters) Sealed() bool {
	return c.sealed.Load()
}

// takeTicket reserves a slot for a sample, returning the ticket number starting at 1, or 0 if the window is full.
func (c *Counters) takeTicket() int64 {
	if c.limit == 0 {
		return c.requested.Add(1)
	}
	for {
		current := c.requested.Load()
		if current >= c.limit {
			return 0
		}
		if c.requested.CompareAndSwap(current, current+1) {
			return current + 1
		}
	}
}

func (c *Counters) record(ordinal int, admitted bool) {
	c.histogram[ordinal].Add(1)
	if admitted {
		c.admitted.Add(1)
	}
}
