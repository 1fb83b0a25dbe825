package window

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// ErrInvalidConfig is returned when a window or policy is constructed with an invalid cycle.
var ErrInvalidConfig = errors.New("invalid window config")

// Policy decides when a RollingWindow rolls over and creates the state for each new window. Implementations must be
// concurrency safe, since ShouldRollover is called on every sample.
type Policy[S State] interface {
	// ShouldRollover returns whether the window holding the state should be rolled over at now.
	ShouldRollover(now time.Time, state S) bool

	// CreateWindowState returns the state for a window opening at now.
	CreateWindowState(now time.Time) S
}

const (
	minTimeCycleFactor = .2
	maxTimeCycleFactor = 2.0
)

// TimeCycle is a window duration that may be rescaled at runtime within [0.2x, 2x] of its default.
//
// This type is concurrency safe.
type TimeCycle struct {
	defaultCycle time.Duration
	current      atomic.Int64
}

// NewTimeCycle returns a TimeCycle for the default duration, else ErrInvalidConfig if the duration is not positive.
func NewTimeCycle(defaultCycle time.Duration) (*TimeCycle, error) {
	if defaultCycle <= 0 {
		return nil, fmt.Errorf("%w: time cycle %s must be positive", ErrInvalidConfig, defaultCycle)
	}
	tc := &TimeCycle{defaultCycle: defaultCycle}
	tc.current.Store(int64(defaultCycle))
	return tc, nil
}

// Default returns the default cycle duration.
func (tc *TimeCycle) Default() time.Duration {
	return tc.defaultCycle
}

// Get returns the current cycle duration.
func (tc *TimeCycle) Get() time.Duration {
	return time.Duration(tc.current.Load())
}

// Rescale multiplies the current cycle by the factor, bounded to [0.2x, 2x] of the default, and returns the new cycle.
func (tc *TimeCycle) Rescale(factor float64) time.Duration {
	lower := float64(tc.defaultCycle) * minTimeCycleFactor
	upper := float64(tc.defaultCycle) * maxTimeCycleFactor
	for {
		old := tc.current.Load()
		updated := int64(math.Round(max(lower, min(upper, float64(old)*factor))))
		if tc.current.CompareAndSwap(old, updated) {
			return time.Duration(updated)
		}
	}
}

type countPolicy struct {
	requestCycle int64
}

// NewCountPolicy returns a Policy that rolls a window over once it holds requestCycle samples, else ErrInvalidConfig if
// the requestCycle is not positive.
func NewCountPolicy(requestCycle int64) (Policy[*Counters], error) {
	if err := validateRequestCycle(requestCycle); err != nil {
		return nil, err
	}
	return &countPolicy{requestCycle: requestCycle}, nil
}

func (p *countPolicy) ShouldRollover(_ time.Time, state *Counters) bool {
	return state.RequestedCount() >= p.requestCycle
}

func (p *countPolicy) CreateWindowState(now time.Time) *Counters {
	return NewCounters(now, p.requestCycle)
}

type timePolicy struct {
	cycle *TimeCycle
}

// NewTimePolicy returns a Policy that rolls a window over once it has been open for the cycle.
func NewTimePolicy(cycle *TimeCycle) (Policy[*Counters], error) {
	if cycle == nil {
		return nil, fmt.Errorf("%w: time cycle is required", ErrInvalidConfig)
	}
	return &timePolicy{cycle: cycle}, nil
}

func (p *timePolicy) ShouldRollover(now time.Time, state *Counters) bool {
	return now.Sub(state.StartTime()) >= p.cycle.Get()
}

func (p *timePolicy) CreateWindowState(now time.Time) *Counters {
	return NewCounters(now, 0)
}

type timeOrCountPolicy struct {
	cycle        *TimeCycle
	requestCycle int64
}

// NewTimeOrCountPolicy returns a Policy that rolls a window over once it has been open for the cycle or holds
// requestCycle samples, whichever happens first.
func NewTimeOrCountPolicy(cycle *TimeCycle, requestCycle int64) (Policy[*Counters], error) {
	if cycle == nil {
		return nil, fmt.Errorf("%w: time cycle is required", ErrInvalidConfig)
	}
	if err := validateRequestCycle(requestCycle); err != nil {
		return nil, err
	}
	return &timeOrCountPolicy{
		cycle:        cycle,
		requestCycle: requestCycle,
	}, nil
}

func (p *timeOrCountPolicy) ShouldRollover(now time.Time, state *Counters) bool {
	return state.RequestedCount() >= p.requestCycle || now.Sub(state.StartTime()) >= p.cycle.Get()
}

func (p *timeOrCountPolicy) CreateWindowState(now time.Time) *Counters {
	return NewCounters(now, p.requestCycle)
}

func validateRequestCycle(requestCycle int64) error {
	if requestCycle <= 0 {
		return fmt.Errorf("%w: request cycle %d must be positive", ErrInvalidConfig, requestCycle)
	}
	return nil
}
