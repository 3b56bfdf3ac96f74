package ratelimiter

import (
	"SignalFlow/backend/go/pkg/util"
)

// PerKey keeps one limiter per key, typically per client address.
// Idle keys are evicted least-recently-used once maxKeys is reached, which resets their budget.
type PerKey struct {
	limiters *util.LRUCache[string, RateLimiter]
	factory  func() RateLimiter
}

// NewPerKey creates a keyed limiter. factory builds the limiter for a new key.
func NewPerKey(factory func() RateLimiter, maxKeys int) (*PerKey, error) {
	if maxKeys <= 0 {
		maxKeys = 1024
	}
	cache, err := util.NewWithConfig(util.CacheConfig[string, RateLimiter]{Capacity: maxKeys})
	if err != nil {
		return nil, err
	}
	return &PerKey{limiters: cache, factory: factory}, nil
}

// AllowKey reports whether the request for key is allowed.
func (p *PerKey) AllowKey(key string) bool {
	limiter, _ := p.limiters.GetOrAdd(key, func() (RateLimiter, int) {
		return p.factory(), 1
	})
	return limiter.Allow()
}

// Keys returns the number of tracked keys.
func (p *PerKey) Keys() int {
	return p.limiters.Len()
}
