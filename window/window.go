package window

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/admission/internal/util"
	"github.com/failsafe-go/admission/priority"
)

// RolloverFunc is called with a snapshot of a window after it has been rolled over. It runs synchronously on the
// goroutine whose sample crossed the window boundary, so it should be fast and must not block.
type RolloverFunc[S State] func(now time.Time, snapshot *Snapshot[S], window *RollingWindow[S])

// RollingWindow is a tumbling window that samples priority admission decisions and hands each completed window to a
// RolloverFunc exactly once. When to roll over, and the state for each window, is decided by a Policy.
//
// Sampling is lock free. When concurrent samples cross a window boundary, exactly one of them performs the rollover,
// and no sample is lost or recorded against more than one window. The window has no timer, so an idle window never
// rolls over.
//
// S is the policy's window state type. This type is concurrency safe.
type RollingWindow[S State] struct {
	policy     Policy[S]
	onRollover RolloverFunc[S]
	clock      util.Clock

	current   atomic.Pointer[slot[S]]
	rollovers atomic.Int64
}

type slot[S State] struct {
	state    S
	counters *Counters
}

// Option configures a RollingWindow.
type Option func(*options)

type options struct {
	clock util.Clock
}

// WithClock configures the clock used to timestamp samples. Defaults to the wall clock.
func WithClock(clock util.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// New returns a new RollingWindow that uses the policy and calls onRollover, which may be nil, for each completed
// window. Returns ErrInvalidConfig if the policy is nil.
func New[S State](policy Policy[S], onRollover RolloverFunc[S], opts ...Option) (*RollingWindow[S], error) {
	if policy == nil {
		return nil, fmt.Errorf("%w: policy is required", ErrInvalidConfig)
	}
	o := &options{clock: util.WallClock}
	for _, opt := range opts {
		opt(o)
	}

	w := &RollingWindow[S]{
		policy:     policy,
		onRollover: onRollover,
		clock:      o.clock,
	}
	w.current.Store(w.newSlot(util.Now(w.clock)))
	return w, nil
}

func (w *RollingWindow[S]) newSlot(now time.Time) *slot[S] {
	state := w.policy.CreateWindowState(now)
	return &slot[S]{
		state:    state,
		counters: state.WindowCounters(),
	}
}

// Sample records a decision for the priority value into the current window, then rolls the window over if the sample
// completed it. Values outside of [0, priority.MaxOrdinal] are ignored.
func (w *RollingWindow[S]) Sample(value priority.Value, admitted bool) {
	if !value.Valid() {
		return
	}

	now := util.Now(w.clock)
	checkBoundary := true
	for {
		s := w.current.Load()
		if checkBoundary && w.policy.ShouldRollover(now, s.state) {
			// The sample belongs to the next window
			w.rollover(s, now)
			checkBoundary = false
			continue
		}

		c := s.counters
		c.writers.Add(1)
		if c.sealed.Load() {
			c.writers.Add(-1)
			w.awaitSuccessor(s)
			continue
		}
		ticket := c.takeTicket()
		if ticket == 0 {
			// Full, and the sample that took the last ticket is rolling the window over
			c.writers.Add(-1)
			w.awaitSuccessor(s)
			continue
		}
		c.record(value.Ordinal(), admitted)
		c.writers.Add(-1)

		if ticket == c.limit {
			w.rollover(s, now)
		}
		return
	}
}

// rollover seals the slot's window, publishes a successor, and hands a snapshot of the sealed window to onRollover. If
// another goroutine has already sealed the window, rollover waits for the successor to be published and returns.
func (w *RollingWindow[S]) rollover(s *slot[S], now time.Time) {
	c := s.counters
	if !c.sealed.CompareAndSwap(false, true) {
		w.awaitSuccessor(s)
		return
	}

	w.current.Store(w.newSlot(now))

	// Samplers that registered before the seal finish recording, and later samplers move to the successor
	for c.writers.Load() > 0 {
		runtime.Gosched()
	}

	w.rollovers.Add(1)
	if w.onRollover != nil {
		w.onRollover(now, freeze(s.state, now), w)
	}
}

func (w *RollingWindow[S]) awaitSuccessor(s *slot[S]) {
	for w.current.Load() == s {
		runtime.Gosched()
	}
}

// Current returns the state of the currently open window. Its counts may change while it's being read.
func (w *RollingWindow[S]) Current() S {
	return w.current.Load().state
}

// Rollovers returns the number of rollovers performed since the window was created.
func (w *RollingWindow[S]) Rollovers() int64 {
	return w.rollovers.Load()
}

// Reset discards the current window and opens a new one without calling the RolloverFunc.
func (w *RollingWindow[S]) Reset() {
	for {
		s := w.current.Load()
		if s.counters.sealed.CompareAndSwap(false, true) {
			w.current.Store(w.newSlot(util.Now(w.clock)))
			return
		}
		w.awaitSuccessor(s)
	}
}
