package publisher

import (
	"SignalFlow/backend/go/internal/config"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/internal/pipeline"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestEventPublisher_RoutesByKind(t *testing.T) {
	w := &recordingWriter{}
	p := NewEventPublisher(w, config.KafkaTopics{Classified: "sf.classified", Signal: "sf.signals"}, logger.NewDiscard())

	err := p.Publish(context.Background(),
		pipeline.Event{Kind: pipeline.KindRecordReceived, Payload: models.SourceRecord{RecordID: "r0"}},
		pipeline.Event{Kind: pipeline.KindRecordClassified, FlowID: "flow-1", Payload: models.ClassifiedRecord{SourceRecord: models.SourceRecord{RecordID: "r1"}}},
		pipeline.Event{Kind: pipeline.KindRecordDeduplicated, Payload: models.DeduplicatedRecord{}},
		pipeline.Event{Kind: pipeline.KindSignalGenerated, Payload: models.SignalRecord{RecordID: "r2", SignalAnalysis: "hold"}},
	)
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "sf.classified", w.msgs[0].Topic)
	assert.Equal(t, "r1", string(w.msgs[0].Key))
	var env pipeline.Envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, pipeline.KindRecordClassified, env.Type)
	assert.Equal(t, "flow-1", env.FlowID)

	assert.Equal(t, "sf.signals", w.msgs[1].Topic)
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &env))
	e, err := env.ToEvent()
	require.NoError(t, err)
	assert.Equal(t, "hold", e.Payload.(models.SignalRecord).SignalAnalysis)
}

func TestEventPublisher_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := NewEventPublisher(w, config.KafkaTopics{Signal: "sf.signals"}, logger.NewDiscard())

	err := p.Publish(context.Background(), pipeline.Event{Kind: pipeline.KindSignalGenerated, Payload: models.SignalRecord{RecordID: "r1"}})
	assert.ErrorContains(t, err, "broker down")
}
