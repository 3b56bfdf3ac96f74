package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func TestTokenBucket_AllowAndRefill(t *testing.T) {
	fc := &fakeClock{t: time.Now()}
	tb := NewTokenBucket(1, 2)
	tb.now = fc.now
	tb.lastTokenTime = fc.t

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	fc.t = fc.t.Add(time.Second)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestTokenBucket_WaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(0.001, 1)
	require.NoError(t, tb.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenBucket_WaitBlocksUntilRefill(t *testing.T) {
	tb := NewTokenBucket(50, 1)
	require.True(t, tb.Allow())

	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestFixedWindowCounter(t *testing.T) {
	fc := &fakeClock{t: time.Now()}
	c := NewFixedWindowCounter(2, time.Minute)
	c.now = fc.now

	assert.True(t, c.Allow())
	assert.True(t, c.Allow())
	assert.False(t, c.Allow())

	fc.t = fc.t.Add(time.Minute)
	assert.True(t, c.Allow())
}

func TestSlidingWindowCounter(t *testing.T) {
	fc := &fakeClock{t: time.Now()}
	c := NewSlidingWindowCounter(2, 10*time.Second, 10)
	c.now = fc.now
	c.lastUpdateTime = fc.t

	assert.True(t, c.Allow())
	fc.t = fc.t.Add(5 * time.Second)
	assert.True(t, c.Allow())
	assert.False(t, c.Allow())

	// the first request leaves the window, the second is still in it
	fc.t = fc.t.Add(5 * time.Second)
	assert.True(t, c.Allow())
	assert.False(t, c.Allow())
}

func TestPerKey_IsolatesClients(t *testing.T) {
	p, err := NewPerKey(func() RateLimiter { return NewFixedWindowCounter(1, time.Hour) }, 2)
	require.NoError(t, err)

	assert.True(t, p.AllowKey("10.0.0.1"))
	assert.False(t, p.AllowKey("10.0.0.1"))
	assert.True(t, p.AllowKey("10.0.0.2"))
	assert.Equal(t, 2, p.Keys())

	// a third client evicts the least recently used one, whose budget starts over
	assert.True(t, p.AllowKey("10.0.0.3"))
	assert.True(t, p.AllowKey("10.0.0.1"))
}
