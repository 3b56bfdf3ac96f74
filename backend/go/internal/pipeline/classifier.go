package pipeline

import (
	"SignalFlow/backend/go/internal/judgment"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"sync"
	"time"
)

// ClassifierName 是分类阶段在执行追踪中的名称。
const ClassifierName = "DataSourceClassifierReactor"

type classifierState struct {
	RecordsClassified     int64
	ClassificationsFailed int64
	RelevantRecords       int64
	NonRelevantRecords    int64
}

// Classifier 判定记录类别，只放行 relevant 记录。
type Classifier struct {
	judge judgment.Capability
	log   *logger.Logger

	mu    sync.Mutex
	state classifierState
}

// NewClassifier 创建分类阶段。
func NewClassifier(judge judgment.Capability, log *logger.Logger) *Classifier {
	return &Classifier{judge: judge, log: log.Component(ClassifierName)}
}

func (c *Classifier) Name() string { return ClassifierName }

func (c *Classifier) count(fn func(s *classifierState)) {
	c.mu.Lock()
	fn(&c.state)
	c.mu.Unlock()
}

// State 返回内部计数器。
func (c *Classifier) State() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"recordsClassified":     c.state.RecordsClassified,
		"classificationsFailed": c.state.ClassificationsFailed,
		"relevantRecords":       c.state.RelevantRecords,
		"nonRelevantRecords":    c.state.NonRelevantRecords,
	}
}

func (c *Classifier) Process(ctx context.Context, flowID string, events []Event) ([]Event, error) {
	report := ReportFrom(ctx)
	log := c.log.WithFlow(flowID)
	var out []Event

	for _, e := range events {
		rec, ok := e.Payload.(models.SourceRecord)
		if !ok {
			report.Warnf("unexpected payload for event %s", e.ID)
			continue
		}
		recLog := log.WithField("record_id", rec.RecordID).WithField("entity", rec.EntityName)

		result, call, err := c.judge.Classify(ctx, rec.Content, judgment.SourceMeta{
			EntityName: rec.EntityName,
			Kind:       rec.Kind,
			CreatedAt:  rec.CreatedAt,
		})
		report.AddCall(call)
		if err != nil {
			c.count(func(s *classifierState) { s.ClassificationsFailed++ })
			report.Warnf("classification failed for %s: %v", rec.RecordID, err)
			recLog.WithError(models.NewErrorInfo(err, "judgment_failed")).Warn("classification failed, dropping record")
			continue
		}
		c.count(func(s *classifierState) { s.RecordsClassified++ })

		if result.Category != models.CategoryRelevant {
			c.count(func(s *classifierState) { s.NonRelevantRecords++ })
			recLog.WithField("category", string(result.Category)).WithField("reason", result.Reason).Info("record filtered")
			continue
		}
		c.count(func(s *classifierState) { s.RelevantRecords++ })

		out = append(out, Event{
			Kind:   KindRecordClassified,
			FlowID: e.FlowID,
			Payload: models.ClassifiedRecord{
				SourceRecord:         rec,
				Category:             result.Category,
				ClassificationReason: result.Reason,
				ClassifiedAt:         time.Now().UTC(),
			},
		})
	}

	log.WithField("input", len(events)).WithField("relevant", len(out)).Debug("classification batch done")
	return out, nil
}
