package priority

import (
	"math"
	"sync"

	"github.com/influxdata/tdigest"
)

// LevelTracker tracks the distribution of recently observed priority ordinals, which allows an admit fraction to be
// converted into an ordinal threshold that admits roughly that fraction of traffic.
//
// This type is concurrency safe.
type LevelTracker interface {
	// RecordOrdinal records count observations of the ordinal.
	RecordOrdinal(ordinal int, count int64)

	// Ordinal returns the ordinal at the quantile of the recorded distribution, and false if nothing has been recorded.
	Ordinal(quantile float64) (int, bool)

	// Count returns the total weight recorded.
	Count() float64

	// Reset discards all recorded observations.
	Reset()
}

type levelTracker struct {
	mu     sync.Mutex
	digest *tdigest.TDigest // Guarded by mu
}

// NewLevelTracker returns a new LevelTracker backed by a t-digest.
func NewLevelTracker() LevelTracker {
	return &levelTracker{
		digest: tdigest.NewWithCompression(100),
	}
}

func (t *levelTracker) RecordOrdinal(ordinal int, count int64) {
	if count <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.digest.Add(float64(ordinal), float64(count))
}

func (t *levelTracker) Ordinal(quantile float64) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.digest.Count() == 0 {
		return 0, false
	}
	ordinal := int(math.Floor(t.digest.Quantile(quantile)))
	return max(0, min(MaxOrdinal, ordinal)), true
}

func (t *levelTracker) Count() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.digest.Count()
}

func (t *levelTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.digest.Reset()
}
