package window

import (
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/failsafe-go/admission/priority"
)

// Snapshot is an immutable view of a window that has been rolled over.
type Snapshot[S State] struct {
	// StartTime is when the window opened.
	StartTime time.Time

	// EndTime is when the window was rolled over.
	EndTime time.Time

	// RequestedCount is the total number of samples recorded in the window.
	RequestedCount int64

	// AdmittedCount is the number of samples that were admitted.
	AdmittedCount int64

	// Histogram holds the number of samples per priority ordinal.
	Histogram []int64

	// Occupied has a bit set for each ordinal with a non-zero count.
	Occupied *bitset.BitSet

	// State is the sealed policy state for the window.
	State S
}

func freeze[S State](state S, end time.Time) *Snapshot[S] {
	c := state.WindowCounters()
	snapshot := &Snapshot[S]{
		StartTime:      c.start,
		EndTime:        end,
		RequestedCount: c.requested.Load(),
		AdmittedCount:  c.admitted.Load(),
		Histogram:      make([]int64, len(c.histogram)),
		Occupied:       bitset.New(uint(len(c.histogram))),
		State:          state,
	}
	for i := range c.histogram {
		if count := c.histogram[i].Load(); count > 0 {
			snapshot.Histogram[i] = count
			snapshot.Occupied.Set(uint(i))
		}
	}
	return snapshot
}

// Count returns the number of samples recorded for the ordinal.
func (s *Snapshot[S]) Count(ordinal int) int64 {
	if ordinal < 0 || ordinal >= len(s.Histogram) {
		return 0
	}
	return s.Histogram[ordinal]
}

// ForEach calls fn for each ordinal with a non-zero count, in ascending ordinal order.
func (s *Snapshot[S]) ForEach(fn func(ordinal int, count int64)) {
	for i, ok := s.Occupied.NextSet(0); ok; i, ok = s.Occupied.NextSet(i + 1) {
		fn(int(i), s.Histogram[i])
	}
}

// GroupCounts returns the number of samples recorded per priority group.
func (s *Snapshot[S]) GroupCounts() map[priority.Group]int64 {
	result := make(map[priority.Group]int64)
	s.ForEach(func(ordinal int, count int64) {
		result[priority.Value(ordinal).Group()] += count
	})
	return result
}

// ShedCount returns the number of samples that were not admitted.
func (s *Snapshot[S]) ShedCount() int64 {
	return s.RequestedCount - s.AdmittedCount
}

// Duration returns how long the window was open.
func (s *Snapshot[S]) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}
