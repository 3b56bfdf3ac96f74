package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_StringsAndExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "a", "1", time.Minute))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	now = now.Add(time.Minute)
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Incr(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := int64(1); i <= 3; i++ {
		n, err := s.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	require.NoError(t, s.SAdd(ctx, "set", "x"))
	_, err := s.Incr(ctx, "set")
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestMemoryStore_Lists(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.LPush(ctx, "l", "a", "b", "c"))
	got, err := s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, got)

	require.NoError(t, s.LTrim(ctx, "l", 0, 1))
	got, err = s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, got)

	got, err = s.LRange(ctx, "l", 5, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStore_SetsAndHashes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SAdd(ctx, "s", "b", "a", "b"))
	n, err := s.SCard(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	members, err := s.SMembers(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)

	require.NoError(t, s.SRem(ctx, "s", "a", "b"))
	n, err = s.SCard(ctx, "s")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.HSet(ctx, "h", map[string]string{"type": "info"}))
	require.NoError(t, s.HSet(ctx, "h", map[string]string{"dimensions": "3"}))
	h, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"type": "info", "dimensions": "3"}, h)

	empty, err := s.HGetAll(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore_KeysGlob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.LPush(ctx, "controller:Classifier:flows", "f1"))
	require.NoError(t, s.LPush(ctx, "controller:Signal:flows", "f1"))
	require.NoError(t, s.Set(ctx, "controller:Signal:latest", "x", 0))

	keys, err := s.Keys(ctx, "controller:*:flows")
	require.NoError(t, err)
	assert.Equal(t, []string{"controller:Classifier:flows", "controller:Signal:flows"}, keys)

	vals, err := s.MGet(ctx, "controller:Signal:latest", "missing")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", ""}, vals)
}
