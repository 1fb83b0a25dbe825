package pid

import (
	"sync"
	"time"

	"github.com/failsafe-go/admission/internal/util"
)

// Gains are the proportional, integral, and derivative gains for a controller.
type Gains struct {
	// Kp responds to the current error.
	Kp float64 `yaml:"kp" mapstructure:"kp"`

	// Ki responds to error accumulated over time.
	Ki float64 `yaml:"ki" mapstructure:"ki"`

	// Kd responds to the rate of change of the error.
	Kd float64 `yaml:"kd" mapstructure:"kd"`
}

// DefaultGains are starting points for overload protection. A small Ki avoids windup from long periods of load, while
// the Kd term damps oscillation when load changes quickly.
var DefaultGains = Gains{Kp: .5, Ki: .01, Kd: .1}

// WithDefaults returns a copy of the gains where any non-positive gain is replaced by its default.
func (g Gains) WithDefaults() Gains {
	if g.Kp <= 0 {
		g.Kp = DefaultGains.Kp
	}
	if g.Ki <= 0 {
		g.Ki = DefaultGains.Ki
	}
	if g.Kd <= 0 {
		g.Kd = DefaultGains.Kd
	}
	return g
}

// Controller is a PID controller that drives a measurement towards a fixed setpoint, assuming a unit time step between
// updates. Its output is a normalized adjustment coefficient from 0 to 1.
//
// This type is concurrency safe.
type Controller struct {
	gains    Gains
	setpoint float64

	mu        sync.Mutex
	integral  float64 // Guarded by mu
	lastError float64 // Guarded by mu
	updated   bool    // Guarded by mu
}

// NewController returns a new Controller for the gains and setpoint.
func NewController(gains Gains, setpoint float64) *Controller {
	return &Controller{
		gains:    gains,
		setpoint: setpoint,
	}
}

// Update computes the error between the setpoint and measurement, and returns the control signal clamped to [0, 1].
func (c *Controller) Update(measurement float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.setpoint - measurement
	c.integral += err
	var derivative float64
	if c.updated {
		derivative = err - c.lastError
	}
	c.lastError = err
	c.updated = true

	return util.Clamp(c.gains.Kp*err+c.gains.Ki*c.integral+c.gains.Kd*derivative, 0, 1)
}

// Setpoint returns the controller's setpoint.
func (c *Controller) Setpoint() float64 {
	return c.setpoint
}

// Reset clears the accumulated integral and last error.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.integral = 0
	c.lastError = 0
	c.updated = false
}

// TimeAwareController is a PID controller for irregularly timed errors. Integral and derivative terms are weighted by
// the seconds elapsed since the previous update, and its output is unclamped.
//
// This type is concurrency safe.
type TimeAwareController struct {
	gains Gains
	clock util.Clock

	mu         sync.Mutex
	integral   float64   // Guarded by mu
	lastError  float64   // Guarded by mu
	lastUpdate time.Time // Guarded by mu. Zero before the first update.
}

// NewTimeAwareController returns a new TimeAwareController for the gains, using the wall clock for Update.
func NewTimeAwareController(gains Gains) *TimeAwareController {
	return NewTimeAwareControllerWithClock(gains, util.WallClock)
}

// NewTimeAwareControllerWithClock returns a new TimeAwareController for the gains, using the clock for Update.
func NewTimeAwareControllerWithClock(gains Gains, clock util.Clock) *TimeAwareController {
	return &TimeAwareController{
		gains: gains,
		clock: clock,
	}
}

// Update returns the control signal for the error at the controller clock's current time.
func (c *TimeAwareController) Update(err float64) float64 {
	return c.Output(err, util.Now(c.clock))
}

// Output returns the control signal for the error observed at now. The first call, and any call where time has not
// advanced, contributes no integral or derivative term.
func (c *TimeAwareController) Output(err float64, now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dt float64
	if !c.lastUpdate.IsZero() {
		dt = now.Sub(c.lastUpdate).Seconds()
	}

	var derivative float64
	if dt > 0 {
		c.integral += err * dt
		derivative = (err - c.lastError) / dt
	}
	c.lastError = err
	if now.After(c.lastUpdate) {
		c.lastUpdate = now
	}

	return c.gains.Kp*err + c.gains.Ki*c.integral + c.gains.Kd*derivative
}

// Integral returns the accumulated time weighted error.
func (c *TimeAwareController) Integral() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.integral
}

// Reset clears the accumulated integral, last error, and last update time.
func (c *TimeAwareController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.integral = 0
	c.lastError = 0
	c.lastUpdate = time.Time{}
}
