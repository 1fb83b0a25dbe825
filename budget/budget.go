package budget

import (
	"errors"
	"sync"
	"time"

	"github.com/failsafe-go/admission/internal/util"
)

// ErrExceeded is returned when a retry exceeds the budget.
var ErrExceeded = errors.New("retry budget exceeded")

// DefaultTTL is the period over which requests and retries are counted when none is configured.
const DefaultTTL = 10 * time.Second

const bucketCount = 10

// RetryBudget limits retries to a ratio of the requests recorded over a recent TTL. A ratio of .1 allows one retry for
// every 10 requests, and a ratio of 0 rejects every retry.
//
// This type is concurrency safe.
type RetryBudget struct {
	ratio float64
	ttl   time.Duration

	mu     sync.Mutex
	counts *ttlCounts // Guarded by mu
}

// NewRetryBudget returns a new RetryBudget for the ratio and ttl. Ratios above 1 are treated as 1, and ratios below 0
// are treated as 0. A non-positive ttl is replaced with DefaultTTL.
func NewRetryBudget(ratio float64, ttl time.Duration) *RetryBudget {
	return NewRetryBudgetWithClock(ratio, ttl, util.WallClock)
}

// NewRetryBudgetWithClock is like NewRetryBudget but counts requests and retries against the clock.
func NewRetryBudgetWithClock(ratio float64, ttl time.Duration, clock util.Clock) *RetryBudget {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RetryBudget{
		ratio:  util.Clamp(ratio, 0, 1),
		ttl:    ttl,
		counts: newTTLCounts(bucketCount, ttl, clock),
	}
}

// RecordRequest records an original, non-retry request, which adds to the budget available for retries.
func (b *RetryBudget) RecordRequest() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts.addRequest()
}

// TryAcquireRetry records a retry and returns true if the retry fits within the budget, else returns false.
func (b *RetryBudget) TryAcquireRetry() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.counts.allowsRetry(b.ratio) {
		return false
	}
	b.counts.addRetry()
	return true
}

// AcquireRetry records a retry if it fits within the budget, else returns ErrExceeded.
func (b *RetryBudget) AcquireRetry() error {
	if !b.TryAcquireRetry() {
		return ErrExceeded
	}
	return nil
}

// Ratio returns the effective ratio of retries to requests.
func (b *RetryBudget) Ratio() float64 {
	return b.ratio
}

// TTL returns the period over which requests and retries are counted.
func (b *RetryBudget) TTL() time.Duration {
	return b.ttl
}

// Requests returns the number of requests recorded within the TTL.
func (b *RetryBudget) Requests() uint {
	b.mu.Lock()
	defer b.mu.Unlock()
	requests, _ := b.counts.totals()
	return requests
}

// Retries returns the number of retries acquired within the TTL.
func (b *RetryBudget) Retries() uint {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, retries := b.counts.totals()
	return retries
}
