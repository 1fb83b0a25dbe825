package admission

import (
	"math"
	"sync"
	"time"

	"github.com/failsafe-go/admission/conditioner"
	"github.com/failsafe-go/admission/internal/util"
	"github.com/failsafe-go/admission/pid"
)

// regulator turns one kind of feedback into an admit fraction. Each sample is denoised, smoothed, and fed to a PID
// controller. The admit fraction tightens multiplicatively while the smoothed signal is above its target, and relaxes
// additively otherwise.
//
// This type is concurrency safe.
type regulator struct {
	kind           Kind
	target         float64
	zThreshold     float64
	decreaseFactor float64
	increaseStep   float64
	minAdmitRate   float64

	mu            sync.Mutex
	denoiser      *conditioner.Denoiser    // Guarded by mu
	smoother      *conditioner.EMA         // Guarded by mu
	setpoint      *pid.Controller          // Used for CPU
	timeAware     *pid.TimeAwareController // Used for queue delay and error rate
	smoothed      float64                  // Guarded by mu
	output        float64                  // Guarded by mu
	admitFraction float64                  // Guarded by mu
	updates       uint64                   // Guarded by mu
}

func newRegulator(kind Kind, config Config) *regulator {
	r := &regulator{
		kind:           kind,
		target:         config.target(kind),
		zThreshold:     config.ZThreshold,
		decreaseFactor: config.DecreaseFactor,
		increaseStep:   config.IncreaseStep,
		minAdmitRate:   config.MinAdmitRate,
		denoiser:       conditioner.NewDenoiser(config.DenoiserSize),
		smoother:       conditioner.NewEMAWithWarmup(config.SmoothingAlpha, 1),
		admitFraction:  1,
	}
	if kind == CPU {
		r.setpoint = pid.NewController(config.Gains, r.target)
	} else {
		r.timeAware = pid.NewTimeAwareController(config.Gains)
	}
	return r
}

// update records the feedback value observed at now and returns the new admit fraction.
func (r *regulator) update(value float64, now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Queue delays are only denoised when they spike, since drops in delay are always meaningful
	var denoised float64
	if r.kind == QueueDelay {
		denoised = r.denoiser.DenoiseRight(value, r.zThreshold)
	} else {
		denoised = r.denoiser.Denoise(value, r.zThreshold)
	}
	r.smoothed = r.smoother.Update(denoised)
	r.updates++

	if r.setpoint != nil {
		r.output = r.setpoint.Update(r.smoothed)
		if r.smoothed > r.target {
			overshoot := (r.smoothed - r.target) / r.target
			r.admitFraction *= 1 - r.decreaseFactor*math.Min(1, overshoot)
		} else {
			r.admitFraction += r.increaseStep * r.output
		}
	} else {
		// The error decides the direction, and the output only sizes the decrease, since the derivative term can
		// oppose the error when feedback arrives milliseconds apart
		overshoot := (r.smoothed - r.target) / r.target
		r.output = r.timeAware.Output(overshoot, now)
		if overshoot > 0 {
			r.admitFraction *= 1 - r.decreaseFactor*util.Clamp(r.output, 0, 1)
		} else {
			r.admitFraction += r.increaseStep
		}
	}

	r.admitFraction = util.Clamp(r.admitFraction, r.minAdmitRate, 1)
	return r.admitFraction
}

func (r *regulator) fraction() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admitFraction
}

func (r *regulator) status() KindStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return KindStatus{
		Kind:          r.kind.String(),
		Target:        r.target,
		Smoothed:      util.Round(r.smoothed),
		Output:        util.Round(r.output),
		AdmitFraction: util.Round(r.admitFraction),
		Updates:       r.updates,
	}
}

func (r *regulator) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denoiser.Reset()
	r.smoother.Reset()
	if r.setpoint != nil {
		r.setpoint.Reset()
	} else {
		r.timeAware.Reset()
	}
	r.smoothed = 0
	r.output = 0
	r.admitFraction = 1
	r.updates = 0
}
