package ratelimiter

import (
	"sync"
	"time"
)

// FixedWindowCounter admits at most limit requests per aligned window.
// Windows are numbered from the Unix epoch, so every instance agrees on boundaries.
type FixedWindowCounter struct {
	limit  int
	window time.Duration
	index  int64
	count  int
	now    clock
	mu     sync.Mutex
}

// NewFixedWindowCounter creates a counter. A non-positive window falls back to one second.
func NewFixedWindowCounter(limit int, window time.Duration) *FixedWindowCounter {
	if window <= 0 {
		window = time.Second
	}
	return &FixedWindowCounter{limit: limit, window: window, index: -1, now: time.Now}
}

// Allow counts the request against the current window.
func (c *FixedWindowCounter) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx := c.now().UnixNano() / int64(c.window); idx != c.index {
		c.index = idx
		c.count = 0
	}
	if c.count >= c.limit {
		return false
	}
	c.count++
	return true
}
