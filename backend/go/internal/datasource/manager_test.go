package datasource

import (
	"SignalFlow/backend/go/internal/kv"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	*fakeSource
	entities []models.EntityInfo
	err      error
}

func (f *fakeUpstream) Entities(context.Context) ([]models.EntityInfo, error) {
	return f.entities, f.err
}

func newTestManager(t *testing.T, upstream *fakeUpstream) *Manager {
	t.Helper()
	cursors := NewCursorStore(kv.NewMemoryStore(), "", true, logger.NewDiscard())
	m := NewManager(upstream, cursors, nil, ManagerOptions{Interval: time.Hour, StartDelay: 5 * time.Second}, logger.NewDiscard())
	t.Cleanup(m.StopAllSubscriptions)
	return m
}

func testEntities() []models.EntityInfo {
	return []models.EntityInfo{
		{EntityID: "e-1", DataType: models.SourceKindInfo, DisplayName: "Macro Wire", Count: 10},
		{EntityID: "e-2", DataType: models.SourceKindStrategy, DisplayName: "Desk Notes", Count: 4},
		{EntityID: "e-3", DataType: models.SourceKindInfo, DisplayName: "Flash News", Count: 7},
	}
}

func TestManager_InitializeAndLookup(t *testing.T) {
	m := newTestManager(t, &fakeUpstream{fakeSource: &fakeSource{}, entities: testEntities()})

	entities, err := m.Initialize(context.Background())
	require.NoError(t, err)
	assert.Len(t, entities, 3)

	e, ok := m.GetEntity("e-2")
	require.True(t, ok)
	assert.Equal(t, "Desk Notes", e.DisplayName)

	e, ok = m.FindEntityByName("flash")
	require.True(t, ok)
	assert.Equal(t, "e-3", e.EntityID)

	_, ok = m.FindEntityByName("nothing")
	assert.False(t, ok)
	assert.Len(t, m.AvailableEntities(), 3)
}

func TestManager_InitializeError(t *testing.T) {
	upstreamErr := &SubscriptionError{Kind: ErrorKindHTTP, StatusCode: 503}
	m := newTestManager(t, &fakeUpstream{fakeSource: &fakeSource{}, err: upstreamErr})

	_, err := m.Initialize(context.Background())
	assert.ErrorIs(t, err, models.ErrUpstreamRequestFailed)
}

func TestManager_StartSubscriptionIdempotent(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{}
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	source.add(record("r-1", "e-1", base))
	m := newTestManager(t, &fakeUpstream{fakeSource: source, entities: testEntities()})
	_, err := m.Initialize(ctx)
	require.NoError(t, err)

	var mu sync.Mutex
	var received []models.SourceRecord
	handler := func(_ context.Context, rec models.SourceRecord) {
		mu.Lock()
		received = append(received, rec)
		mu.Unlock()
	}

	require.NoError(t, m.StartSubscription(ctx, "e-1", handler))
	require.NoError(t, m.StartSubscription(ctx, "e-1", handler))
	assert.Equal(t, 1, m.GetStatus().ActiveSubscriptions)

	err = m.StartSubscription(ctx, "missing", handler)
	assert.True(t, errors.Is(err, ErrUnknownEntity))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "Macro Wire", received[0].EntityName)
	assert.Equal(t, models.SourceKindInfo, received[0].Kind)
	assert.Equal(t, "content r-1", received[0].Content)
	mu.Unlock()
}

func TestManager_StartAllStaggers(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &fakeUpstream{fakeSource: &fakeSource{}, entities: testEntities()})
	_, err := m.Initialize(ctx)
	require.NoError(t, err)

	var delays []time.Duration
	m.afterFunc = func(d time.Duration, f func()) func() bool {
		delays = append(delays, d)
		f()
		return func() bool { return true }
	}

	n := m.StartAllSubscriptions(ctx, func(context.Context, models.SourceRecord) {})
	assert.Equal(t, 3, n)
	assert.Equal(t, []time.Duration{0, 5 * time.Second, 10 * time.Second}, delays)

	status := m.GetStatus()
	assert.Equal(t, 3, status.TotalEntities)
	assert.Equal(t, 3, status.ActiveSubscriptions)
	assert.Equal(t, 0, status.PendingStarts)
	assert.True(t, status.Persistent)

	// 已订阅的实体不会被再次调度。
	assert.Equal(t, 0, m.StartAllSubscriptions(ctx, func(context.Context, models.SourceRecord) {}))
}

func TestManager_StartEnabledAndStop(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &fakeUpstream{fakeSource: &fakeSource{}, entities: testEntities()})
	_, err := m.Initialize(ctx)
	require.NoError(t, err)

	var pending []func()
	m.afterFunc = func(d time.Duration, f func()) func() bool {
		pending = append(pending, f)
		return func() bool { return true }
	}

	n := m.StartEnabled(ctx, []string{"e-3", "unknown", "e-1"}, func(context.Context, models.SourceRecord) {})
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, m.GetStatus().PendingStarts)

	pending[0]()
	assert.True(t, m.IsSubscribed("e-3"))
	assert.False(t, m.IsSubscribed("e-1"))

	m.StopAllSubscriptions()
	// 停止后到期的定时器不再启动订阅。
	pending[1]()
	status := m.GetStatus()
	assert.Equal(t, 0, status.ActiveSubscriptions)
	assert.Equal(t, 0, status.PendingStarts)
}

func TestManager_StopWaitsForInFlightPoll(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{}
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	source.add(record("r-1", "e-1", base))
	m := newTestManager(t, &fakeUpstream{fakeSource: source, entities: testEntities()})
	_, err := m.Initialize(ctx)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, m.StartSubscription(ctx, "e-1", func(context.Context, models.SourceRecord) {
		close(entered)
		<-release
	}))
	<-entered

	stopped := make(chan struct{})
	go func() {
		m.StopAllSubscriptions()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("StopAllSubscriptions returned while a poll was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("StopAllSubscriptions did not return after the poll finished")
	}

	// 轮询结束前游标已保存，重启后从该记录之后继续。
	cursor, err := m.Cursors().Load(ctx, "e-1")
	require.NoError(t, err)
	require.NotNil(t, cursor)
	require.NotNil(t, cursor.LastTimestamp)
	assert.Equal(t, base.Add(time.Millisecond), cursor.LastTimestamp.UTC())
}
