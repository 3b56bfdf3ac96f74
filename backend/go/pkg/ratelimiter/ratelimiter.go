package ratelimiter

import (
	"context"
	"time"
)

// RateLimiter is the interface for rate limiting.
// It defines a single method, Allow, which returns true if a request is allowed,
// and false otherwise.
type RateLimiter interface {
	// Allow returns true if the request is allowed, otherwise returns false.
	Allow() bool
}

// Waiter is a RateLimiter that can also block until a request is allowed.
type Waiter interface {
	RateLimiter
	// Wait blocks until a request is allowed or ctx is done.
	Wait(ctx context.Context) error
}

// clock is the time source shared by the limiters. Tests replace it.
type clock func() time.Time
