package datasource

import (
	"SignalFlow/backend/go/internal/kv"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cursorAt(entityID string, ts time.Time, total int) models.SubscriptionCursor {
	return models.SubscriptionCursor{EntityID: entityID, LastTimestamp: &ts, TotalRecordsSeen: total, LastUpdatedAt: ts, CreatedAt: ts}
}

func TestCursorStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	cursors := NewCursorStore(store, "", true, logger.NewDiscard())

	loaded, err := cursors.Load(ctx, "e-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, cursors.Save(ctx, cursorAt("e-1", ts, 4)))

	_, err = store.Get(ctx, DefaultKeyPrefix+"e-1")
	require.NoError(t, err)

	// 新实例模拟进程重启。
	restarted := NewCursorStore(store, "", true, logger.NewDiscard())
	loaded, err = restarted.Load(ctx, "e-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, ts.Equal(*loaded.LastTimestamp))
	assert.Equal(t, 4, loaded.TotalRecordsSeen)
}

func TestCursorStore_MemoryOnly(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	cursors := NewCursorStore(store, "", false, logger.NewDiscard())

	ts := time.Now().UTC()
	require.NoError(t, cursors.Save(ctx, cursorAt("e-1", ts, 1)))

	keys, err := store.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, keys)

	loaded, err := cursors.Load(ctx, "e-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.False(t, cursors.Persistent())
}

type failingKV struct {
	kv.Store
}

func (failingKV) Set(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

func (failingKV) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func TestCursorStore_SaveFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	cursors := NewCursorStore(failingKV{kv.NewMemoryStore()}, "", true, logger.NewDiscard())

	ts := time.Now().UTC()
	err := cursors.Save(ctx, cursorAt("e-1", ts, 2))
	assert.ErrorIs(t, err, models.ErrPersistenceUnavailable)

	loaded, err := cursors.Load(ctx, "e-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 2, loaded.TotalRecordsSeen)
}

func TestCursorStore_AllStatsClear(t *testing.T) {
	ctx := context.Background()
	cursors := NewCursorStore(kv.NewMemoryStore(), "test:cursor:", true, logger.NewDiscard())

	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(48 * time.Hour)
	require.NoError(t, cursors.Save(ctx, cursorAt("e-1", older, 3)))
	require.NoError(t, cursors.Save(ctx, cursorAt("e-2", newer, 5)))

	all, err := cursors.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Contains(t, all, "e-2")

	stats, err := cursors.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEntities)
	assert.Equal(t, 8, stats.TotalRecords)
	assert.True(t, older.Equal(*stats.OldestTimestamp))
	assert.True(t, newer.Equal(*stats.NewestTimestamp))

	n, err := cursors.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err = cursors.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
