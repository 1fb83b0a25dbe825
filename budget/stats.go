package budget

import (
	"time"

	"github.com/failsafe-go/admission/internal/util"
)

// ttlCounts counts requests and retries over a ttl, using a ring of buckets that each cover a slice of the ttl. A
// bucket is keyed by the epoch it covers, so buckets left over from an earlier lap of the ring are ignored and reused.
//
// This type is not concurrency safe.
type ttlCounts struct {
	clock      util.Clock
	bucketSize int64
	buckets    []countBucket
}

type countBucket struct {
	epoch    int64
	requests uint
	retries  uint
}

func newTTLCounts(bucketCount int, ttl time.Duration, clock util.Clock) *ttlCounts {
	return &ttlCounts{
		clock:      clock,
		bucketSize: max(1, int64(ttl)/int64(bucketCount)),
		buckets:    make([]countBucket, bucketCount),
	}
}

func (c *ttlCounts) currentEpoch() int64 {
	return c.clock.CurrentUnixNano() / c.bucketSize
}

// current returns the bucket for the current epoch, clearing it if it was last used in an earlier lap.
func (c *ttlCounts) current() *countBucket {
	epoch := c.currentEpoch()
	b := &c.buckets[epoch%int64(len(c.buckets))]
	if b.epoch != epoch {
		*b = countBucket{epoch: epoch}
	}
	return b
}

func (c *ttlCounts) addRequest() {
	c.current().requests++
}

func (c *ttlCounts) addRetry() {
	c.current().retries++
}

// totals returns the requests and retries recorded within the ttl.
func (c *ttlCounts) totals() (requests, retries uint) {
	oldest := c.currentEpoch() - int64(len(c.buckets))
	for _, b := range c.buckets {
		if b.epoch > oldest {
			requests += b.requests
			retries += b.retries
		}
	}
	return requests, retries
}

// allowsRetry returns whether one more retry keeps retries within ratio of the requests in the ttl.
func (c *ttlCounts) allowsRetry(ratio float64) bool {
	requests, retries := c.totals()
	return ratio > 0 && float64(retries+1) <= ratio*float64(requests)
}
