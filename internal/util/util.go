package util

import (
	"math"
	"time"
)

// Clock provides the current time.
type Clock interface {
	CurrentUnixNano() int64
}

type wallClock struct{}

func (wc *wallClock) CurrentUnixNano() int64 {
	return time.Now().UnixNano()
}

// WallClock is a Clock backed by the system's wall clock.
var WallClock Clock = &wallClock{}

// Now returns the clock's current time.
func Now(clock Clock) time.Time {
	return time.Unix(0, clock.CurrentUnixNano())
}

// Assert panics with the message if the condition is false.
func Assert(condition bool, message string) {
	if !condition {
		panic(message)
	}
}

// Clamp returns the value bounded by lower and upper.
func Clamp(value, lower, upper float64) float64 {
	return max(lower, min(upper, value))
}

// Round rounds the value to 2 decimal places.
func Round(value float64) float64 {
	return math.Round(value*100) / 100
}

// Smooth returns a value that is decayed towards newValue by the smoothingFactor.
func Smooth(oldValue, newValue, smoothingFactor float64) float64 {
	return oldValue*(1-smoothingFactor) + newValue*smoothingFactor
}
