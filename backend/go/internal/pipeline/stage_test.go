package pipeline

import (
	"SignalFlow/backend/go/internal/kv"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/internal/tracking"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoProcessor 原样转发事件，并记录每批收到的 flow 与记录顺序。
type echoProcessor struct {
	mu      sync.Mutex
	batches map[string][]string
	fail    bool
}

func (p *echoProcessor) Name() string { return "EchoReactor" }

func (p *echoProcessor) Process(ctx context.Context, flowID string, events []Event) ([]Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.batches == nil {
		p.batches = make(map[string][]string)
	}
	p.batches[flowID] = append(p.batches[flowID], outputs(events)...)
	if p.fail {
		return nil, errors.New("boom")
	}
	ReportFrom(ctx).AddCall(models.ExternalCall{Prompt: "p", Model: "m"})
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = Event{Kind: KindRecordClassified, Payload: models.ClassifiedRecord{SourceRecord: e.Payload.(models.SourceRecord)}}
	}
	return out, nil
}

func (p *echoProcessor) State() map[string]interface{} {
	return map[string]interface{}{"ok": true}
}

func TestStage_GroupsByFlowAndSortsByCreatedAt(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(logger.NewDiscard())
	tracker := tracking.NewTracker(kv.NewMemoryStore(), nil, tracking.Options{}, logger.NewDiscard())
	proc := &echoProcessor{}
	stage := NewStage(proc, bus, tracker, StageOptions{Interval: time.Hour}, logger.NewDiscard())

	var published []Event
	bus.Subscribe(KindRecordClassified, func(_ context.Context, e Event) { published = append(published, e) })

	stage.Enqueue(ctx, Event{Kind: KindRecordReceived, FlowID: "flow-a", Payload: sourceRecord("a2", "x", 2*time.Second)})
	stage.Enqueue(ctx, Event{Kind: KindRecordReceived, Payload: sourceRecord("n1", "x", 0)})
	stage.Enqueue(ctx, Event{Kind: KindRecordReceived, FlowID: "flow-a", Payload: sourceRecord("a1", "x", time.Second)})

	assert.Equal(t, 3, stage.Flush(ctx))
	assert.Equal(t, 0, stage.Flush(ctx))

	assert.Equal(t, []string{"a1", "a2"}, proc.batches["flow-a"])
	assert.Equal(t, []string{"n1"}, proc.batches[NoFlow])

	require.Len(t, published, 3)
	assert.Equal(t, "flow-a", published[0].FlowID)
	assert.Empty(t, published[2].FlowID)

	exec, err := tracker.GetControllerFlow(ctx, "EchoReactor", "flow-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), exec.TotalBatches)
	assert.Equal(t, 2, exec.TotalInputEvents)
	require.Len(t, exec.Batches, 1)
	assert.Equal(t, []string{"a1", "a2"}, exec.Batches[0].InputRecordIDs)
	assert.Len(t, exec.Batches[0].ExternalCalls, 1)
	assert.Equal(t, true, exec.Batches[0].InternalState["ok"])

	stats := stage.Stats()
	assert.Equal(t, int64(2), stats.Batches)
	assert.Equal(t, int64(3), stats.EventsIn)
	assert.Equal(t, int64(3), stats.EventsOut)
	assert.NotNil(t, stats.LastRunAt)
}

func TestStage_BatchFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	tracker := tracking.NewTracker(kv.NewMemoryStore(), nil, tracking.Options{}, logger.NewDiscard())
	stage := NewStage(&echoProcessor{fail: true}, NewBus(logger.NewDiscard()), tracker, StageOptions{}, logger.NewDiscard())

	stage.Enqueue(ctx, Event{Kind: KindRecordReceived, FlowID: "flow-b", Payload: sourceRecord("b1", "x", 0)})
	stage.Flush(ctx)

	assert.Equal(t, int64(1), stage.Stats().Failures)
	latest, err := tracker.GetLatest(ctx, "EchoReactor")
	require.NoError(t, err)
	require.Len(t, latest.Warnings, 1)
	assert.Contains(t, latest.Warnings[0], "boom")
	assert.Empty(t, latest.OutputRecordIDs)
}

func TestStage_RunFlushesOnMaxBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	proc := &echoProcessor{}
	stage := NewStage(proc, NewBus(logger.NewDiscard()), nil, StageOptions{Interval: time.Hour, MaxBatch: 2}, logger.NewDiscard())

	done := make(chan struct{})
	go func() {
		stage.Run(ctx)
		close(done)
	}()

	stage.Enqueue(ctx, Event{Kind: KindRecordReceived, Payload: sourceRecord("m1", "x", 0)})
	stage.Enqueue(ctx, Event{Kind: KindRecordReceived, Payload: sourceRecord("m2", "x", time.Second)})

	assert.Eventually(t, func() bool { return stage.Stats().EventsIn == 2 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
