package conditioner

import (
	"math"

	"github.com/bits-and-blooms/bitset"

	"github.com/failsafe-go/admission/internal/util"
)

// Denoiser replaces outlier samples with a consensus of recent samples, using Z-scores computed over a fixed size
// window of the most recent raw samples.
//
// This type is not concurrency safe.
type Denoiser struct {
	samples []float64
	valid   *bitset.BitSet

	// Mutable state
	size  int
	index int
	sum   float64
}

// NewDenoiser returns a new Denoiser that computes Z-scores over the last size samples.
func NewDenoiser(size int) *Denoiser {
	util.Assert(size > 0, "size must be > 0")
	return &Denoiser{
		samples: make([]float64, size),
		valid:   bitset.New(uint(size)),
	}
}

// Denoise records the sample and returns it if its Z-score magnitude is within the zThreshold. Otherwise the sample is
// treated as noise, and the mean of the other samples whose Z-score magnitude is within the zThreshold is returned. If
// the window has no variance, the sample is returned unchanged.
func (d *Denoiser) Denoise(x, zThreshold float64) float64 {
	return d.denoise(x, func(z float64) bool {
		return math.Abs(z) <= zThreshold
	})
}

// DenoiseRight is like Denoise but only treats samples whose Z-score is above the zThreshold as noise, so that only
// upward spikes are replaced.
func (d *Denoiser) DenoiseRight(x, zThreshold float64) float64 {
	return d.denoise(x, func(z float64) bool {
		return z <= zThreshold
	})
}

func (d *Denoiser) denoise(x float64, isValid func(z float64) bool) float64 {
	incoming := d.add(x)

	n := float64(d.size)
	mean := d.sum / n
	var sumSquares float64
	lowest, highest := math.Inf(1), math.Inf(-1)
	for _, sample := range d.samples[:d.size] {
		diff := sample - mean
		sumSquares += diff * diff
		lowest = min(lowest, sample)
		highest = max(highest, sample)
	}
	stdDev := math.Sqrt(sumSquares / n)
	if stdDev == 0 || lowest == highest {
		return x
	}

	d.valid.ClearAll()
	for i, sample := range d.samples[:d.size] {
		if isValid((sample - mean) / stdDev) {
			d.valid.Set(uint(i))
		}
	}
	if d.valid.Test(uint(incoming)) {
		return x
	}

	// Replace the sample with the mean of the other valid samples
	var validSum float64
	validCount := d.valid.Count()
	for i, ok := d.valid.NextSet(0); ok; i, ok = d.valid.NextSet(i + 1) {
		validSum += d.samples[i]
	}
	if validCount == 0 {
		return mean
	}
	return validSum / float64(validCount)
}

// add inserts the sample, evicting the oldest if the window is full, and returns the index it was stored at.
func (d *Denoiser) add(x float64) int {
	if d.size < len(d.samples) {
		d.size++
	} else {
		d.sum -= d.samples[d.index]
	}
	index := d.index
	d.samples[index] = x
	d.sum += x
	d.index = (d.index + 1) % len(d.samples)
	return index
}

// Mean returns the mean of the samples in the window.
func (d *Denoiser) Mean() float64 {
	if d.size == 0 {
		return 0
	}
	return d.sum / float64(d.size)
}

// Size returns the number of samples in the window.
func (d *Denoiser) Size() int {
	return d.size
}

// Reset removes all samples from the window.
func (d *Denoiser) Reset() {
	d.size = 0
	d.index = 0
	d.sum = 0
	d.valid.ClearAll()
}
