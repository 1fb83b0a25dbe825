package conditioner

import (
	"github.com/failsafe-go/admission/internal/util"
)

// EMA is an exponential moving average, which de-jitters a signal via:
//
//	smoothed = alpha*x + (1-alpha)*smoothed
//
// This type is not concurrency safe.
type EMA struct {
	alpha         float64
	warmupSamples uint

	// Mutable state
	count uint
	sum   float64
	value float64
}

// NewEMA returns a new EMA with the smoothing factor alpha, which must be in (0, 1]. Larger alphas adapt to recent
// samples faster. The smoothed value starts at 0.
func NewEMA(alpha float64) *EMA {
	return NewEMAWithWarmup(alpha, 0)
}

// NewEMAWithWarmup returns a new EMA with the smoothing factor alpha, which must be in (0, 1]. The first warmupSamples
// are averaged rather than smoothed, which avoids biasing the value towards its initial 0.
func NewEMAWithWarmup(alpha float64, warmupSamples uint) *EMA {
	util.Assert(alpha > 0 && alpha <= 1, "alpha must be in (0, 1]")
	return &EMA{
		alpha:         alpha,
		warmupSamples: warmupSamples,
	}
}

// Update adds the sample to the average and returns the smoothed value.
func (e *EMA) Update(x float64) float64 {
	if e.count < e.warmupSamples {
		e.count++
		e.sum += x
		e.value = e.sum / float64(e.count)
	} else {
		e.value = util.Smooth(e.value, x, e.alpha)
	}
	return e.value
}

// Value returns the current smoothed value.
func (e *EMA) Value() float64 {
	return e.value
}

// Reset resets the smoothed value to 0, and requires a new warmup if one was configured.
func (e *EMA) Reset() {
	e.count = 0
	e.sum = 0
	e.value = 0
}
