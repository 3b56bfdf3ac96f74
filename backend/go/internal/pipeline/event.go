package pipeline

import (
	"SignalFlow/backend/go/internal/models"
	"encoding/json"
	"fmt"
	"time"
)

// EventKind 是流水线事件的类型。
type EventKind string

const (
	KindRecordReceived     EventKind = "DATA_SOURCE_RECORD_RECEIVED"
	KindRecordClassified   EventKind = "DATA_SOURCE_RECORD_CLASSIFIED"
	KindRecordDeduplicated EventKind = "DATA_SOURCE_RECORD_DEDUPLICATED"
	KindSignalGenerated    EventKind = "DATA_SOURCE_SIGNAL_GENERATED"
)

// NoFlow 是未携带 flow ID 的事件所归属的 flow。
const NoFlow = "no-flow"

// Event 是在阶段之间传递的事件。Payload 的具体类型由 Kind 决定：
//
//	KindRecordReceived     models.SourceRecord
//	KindRecordClassified   models.ClassifiedRecord
//	KindRecordDeduplicated models.DeduplicatedRecord
//	KindSignalGenerated    models.SignalRecord
type Event struct {
	ID        string
	Kind      EventKind
	FlowID    string
	Payload   interface{}
	EmittedAt time.Time
}

// RecordID 返回事件携带的记录ID。
func (e Event) RecordID() string {
	switch p := e.Payload.(type) {
	case models.SourceRecord:
		return p.RecordID
	case models.ClassifiedRecord:
		return p.RecordID
	case models.DeduplicatedRecord:
		return p.RecordID
	case models.SignalRecord:
		return p.RecordID
	}
	return ""
}

// CreatedAt 返回事件所携带记录的创建时间，用于批内排序。
func (e Event) CreatedAt() time.Time {
	switch p := e.Payload.(type) {
	case models.SourceRecord:
		return p.CreatedAt
	case models.ClassifiedRecord:
		return p.CreatedAt
	case models.DeduplicatedRecord:
		return p.CreatedAt
	case models.SignalRecord:
		return p.GeneratedAt
	}
	return time.Time{}
}

// Envelope 是事件发往外部消费者时的 JSON 结构。
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	Type      EventKind       `json:"type"`
	FlowID    string          `json:"flowId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emittedAt"`
}

// ToEnvelope 将事件编码为外部格式。
func (e Event) ToEnvelope() (Envelope, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", e.Kind, err)
	}
	return Envelope{ID: e.ID, Type: e.Kind, FlowID: e.FlowID, Payload: payload, EmittedAt: e.EmittedAt}, nil
}

// ToEvent 按类型解码载荷。
func (env Envelope) ToEvent() (Event, error) {
	e := Event{ID: env.ID, Kind: env.Type, FlowID: env.FlowID, EmittedAt: env.EmittedAt}
	var err error
	switch env.Type {
	case KindRecordReceived:
		var p models.SourceRecord
		err = json.Unmarshal(env.Payload, &p)
		e.Payload = p
	case KindRecordClassified:
		var p models.ClassifiedRecord
		err = json.Unmarshal(env.Payload, &p)
		e.Payload = p
	case KindRecordDeduplicated:
		var p models.DeduplicatedRecord
		err = json.Unmarshal(env.Payload, &p)
		e.Payload = p
	case KindSignalGenerated:
		var p models.SignalRecord
		err = json.Unmarshal(env.Payload, &p)
		e.Payload = p
	default:
		return Event{}, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err != nil {
		return Event{}, fmt.Errorf("decoding %s payload: %w", env.Type, err)
	}
	return e, nil
}
