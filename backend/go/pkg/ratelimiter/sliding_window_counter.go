package ratelimiter

import (
	"sync"
	"time"
)

// SlidingWindowCounter implements the RateLimiter interface using the sliding window counter algorithm.
// The window is split into buckets; buckets that fall out of the window are cleared as time advances.
type SlidingWindowCounter struct {
	limit          int           // Maximum number of requests allowed in the window.
	numBuckets     int           // The number of buckets the window is divided into.
	bucketSize     time.Duration // The duration of a single bucket.
	buckets        []int         // Stores the count of requests for each bucket.
	currentBucket  int           // Index of the current bucket.
	lastUpdateTime time.Time     // Start of the current bucket.
	now            clock
	mutex          sync.Mutex
}

// NewSlidingWindowCounter creates a new SlidingWindowCounter.
// limit: the maximum number of requests allowed in the window.
// window: the duration of the time window.
// numBuckets: the number of buckets to divide the window into.
func NewSlidingWindowCounter(limit int, window time.Duration, numBuckets int) *SlidingWindowCounter {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	bucketSize := window / time.Duration(numBuckets)
	if bucketSize <= 0 {
		bucketSize = time.Millisecond
	}
	return &SlidingWindowCounter{
		limit:          limit,
		numBuckets:     numBuckets,
		bucketSize:     bucketSize,
		buckets:        make([]int, numBuckets),
		lastUpdateTime: time.Now(),
		now:            time.Now,
	}
}

// slideWindow clears buckets that have fallen out of the window. Caller holds the lock.
func (swc *SlidingWindowCounter) slideWindow() {
	elapsed := swc.now().Sub(swc.lastUpdateTime)
	bucketsToSlide := int(elapsed / swc.bucketSize)
	if bucketsToSlide <= 0 {
		return
	}
	if bucketsToSlide >= swc.numBuckets {
		for i := range swc.buckets {
			swc.buckets[i] = 0
		}
	} else {
		for i := 1; i <= bucketsToSlide; i++ {
			swc.buckets[(swc.currentBucket+i)%swc.numBuckets] = 0
		}
	}
	swc.currentBucket = (swc.currentBucket + bucketsToSlide) % swc.numBuckets
	swc.lastUpdateTime = swc.lastUpdateTime.Add(time.Duration(bucketsToSlide) * swc.bucketSize)
}

// Allow checks if a request is allowed.
func (swc *SlidingWindowCounter) Allow() bool {
	swc.mutex.Lock()
	defer swc.mutex.Unlock()

	swc.slideWindow()

	total := 0
	for _, count := range swc.buckets {
		total += count
	}
	if total < swc.limit {
		swc.buckets[swc.currentBucket]++
		return true
	}
	return false
}
