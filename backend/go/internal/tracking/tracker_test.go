package tracking

import (
	"SignalFlow/backend/go/internal/kv"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(opts Options) (*Tracker, *kv.MemoryStore) {
	store := kv.NewMemoryStore()
	return NewTracker(store, nil, opts, logger.NewDiscard()), store
}

func batchOf(name string, inputs, outputs int, ts int64) models.ControllerBatch {
	b := models.ControllerBatch{ControllerName: name, ProcessingTimeMs: 10, Timestamp: ts}
	for i := 0; i < inputs; i++ {
		b.InputRecordIDs = append(b.InputRecordIDs, fmt.Sprintf("in-%d", i))
	}
	for i := 0; i < outputs; i++ {
		b.OutputRecordIDs = append(b.OutputRecordIDs, fmt.Sprintf("out-%d", i))
	}
	return b
}

func TestTracker_Aggregation(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(Options{})

	for i, inputs := range []int{2, 3, 1} {
		n, err := tracker.TrackController(ctx, "ctrl-1", "flow-a", batchOf("Classifier", inputs, 1, int64(1000+i)))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), n)
	}

	exec, err := tracker.GetControllerFlow(ctx, "Classifier", "flow-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), exec.TotalBatches)
	assert.Equal(t, 6, exec.TotalInputEvents)
	assert.Equal(t, 3, exec.TotalOutputEvents)
	assert.Equal(t, int64(30), exec.TotalProcessingTimeMs)
	assert.LessOrEqual(t, exec.FirstBatchTime, exec.LastBatchTime)

	require.Len(t, exec.Batches, 3)
	for i, b := range exec.Batches {
		assert.Equal(t, int64(i+1), b.BatchNumber)
		assert.Equal(t, "flow-a", b.FlowID)
		assert.Equal(t, "ctrl-1", b.ControllerID)
	}

	latest, err := tracker.GetLatest(ctx, "Classifier")
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.BatchNumber)
}

func TestTracker_HistoryOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	tracker, store := newTestTracker(Options{HistoryLimit: 3})

	for i := 0; i < 5; i++ {
		flowID := fmt.Sprintf("flow-%d", i)
		_, err := tracker.TrackController(ctx, "ctrl-1", flowID, batchOf("Dedup", 1, 1, int64(i)))
		require.NoError(t, err)
		_, err = tracker.TrackController(ctx, "ctrl-1", flowID, batchOf("Dedup", 1, 0, int64(i)))
		require.NoError(t, err)
	}

	flows, err := store.LRange(ctx, "controller:Dedup:flows", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"flow-4", "flow-3", "flow-2"}, flows)

	history, err := tracker.GetControllerHistory(ctx, "Dedup", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "flow-4", history[0].FlowID)
	assert.Equal(t, int64(2), history[0].TotalBatches)
	assert.Len(t, history[0].Batches, 2)
}

func TestTracker_AvailableControllers(t *testing.T) {
	ctx := context.Background()
	tracker, store := newTestTracker(Options{})

	_, err := tracker.TrackController(ctx, "c1", "flow-a", batchOf("Signal", 1, 1, 1))
	require.NoError(t, err)
	_, err = tracker.TrackController(ctx, "c2", "flow-a", batchOf("Classifier", 1, 1, 1))
	require.NoError(t, err)

	names, err := tracker.GetAvailableControllers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Classifier", "Signal"}, names)

	// 注册表非空时优先使用注册表。
	registered := NewTracker(store, nil, Options{}, logger.NewDiscard())
	registered.Registry().Register("Dedup")
	names, err = registered.GetAvailableControllers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dedup"}, names)
}

func TestTracker_FlowLifecycle(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(Options{})

	inputs := []models.SourceRecord{{RecordID: "r-1", Content: "hello", CreatedAt: time.Now().UTC()}}
	require.NoError(t, tracker.TrackFlowStart(ctx, "flow-2025-03-01-abc", inputs))

	_, err := tracker.TrackController(ctx, "c1", "flow-2025-03-01-abc", batchOf("Classifier", 1, 1, 5))
	require.NoError(t, err)

	trace, err := tracker.GetFlowTrace(ctx, "flow-2025-03-01-abc")
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusProcessing, trace.Status)
	assert.Equal(t, []string{"Classifier"}, trace.Controllers)
	assert.Equal(t, 1, trace.ControllerData["Classifier"].TotalInputEvents)
	require.Len(t, trace.InputRecords, 1)
	assert.Nil(t, trace.EndTime)

	ended, err := tracker.TrackFlowEnd(ctx, "flow-2025-03-01-abc", []string{"r-1"}, "")
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusCompleted, ended.Status)
	require.NotNil(t, ended.EndTime)
	assert.GreaterOrEqual(t, *ended.EndTime, ended.StartTime)

	flows, err := tracker.GetAllFlows(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"flow-2025-03-01-abc"}, flows)

	_, err = tracker.TrackFlowEnd(ctx, "missing", nil, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTracker_ClearAll(t *testing.T) {
	ctx := context.Background()
	tracker, store := newTestTracker(Options{})

	require.NoError(t, tracker.TrackFlowStart(ctx, "flow-x", nil))
	_, err := tracker.TrackController(ctx, "c1", "flow-x", batchOf("Signal", 1, 1, 1))
	require.NoError(t, err)

	n, err := tracker.ClearAll(ctx)
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	keys, err := store.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = tracker.GetFlowTrace(ctx, "flow-x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTracker_TraceExpires(t *testing.T) {
	ctx := context.Background()
	tracker, store := newTestTracker(Options{TraceTTL: time.Minute})
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	_, err := tracker.TrackController(ctx, "c1", "flow-a", batchOf("Signal", 1, 1, 1))
	require.NoError(t, err)

	store.SetClock(func() time.Time { return now.Add(2 * time.Minute) })
	_, err = tracker.GetControllerFlow(ctx, "Signal", "flow-a")
	assert.ErrorIs(t, err, ErrNotFound)

	members, err := store.SMembers(ctx, "flow:flow-a:controllers")
	require.NoError(t, err)
	assert.Empty(t, members)

	// latest 不过期。
	_, err = tracker.GetLatest(ctx, "Signal")
	assert.NoError(t, err)
}

func TestGenerateIDs(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^ctrl-\d{13}-[0-9a-z]{9}$`), GenerateControllerID())
	assert.Regexp(t, regexp.MustCompile(`^flow-\d{4}-\d{2}-\d{2}-[0-9a-z]{9}$`), GenerateFlowID())
	assert.NotEqual(t, GenerateFlowID(), GenerateFlowID())
}
