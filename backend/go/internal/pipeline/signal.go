package pipeline

import (
	"SignalFlow/backend/go/internal/judgment"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"sync"
	"time"
)

// SignalName 是信号阶段在执行追踪中的名称。
const SignalName = "DataSourceSignalReactor"

type signalState struct {
	RecordsProcessed int64
	SignalsGenerated int64
	SignalsFailed    int64
}

// SignalGenerator 为每条去重后的记录生成信号分析。失败的记录不重试。
type SignalGenerator struct {
	judge judgment.Capability
	log   *logger.Logger

	mu    sync.Mutex
	state signalState
}

// NewSignalGenerator 创建信号阶段。
func NewSignalGenerator(judge judgment.Capability, log *logger.Logger) *SignalGenerator {
	return &SignalGenerator{judge: judge, log: log.Component(SignalName)}
}

func (g *SignalGenerator) Name() string { return SignalName }

func (g *SignalGenerator) count(fn func(s *signalState)) {
	g.mu.Lock()
	fn(&g.state)
	g.mu.Unlock()
}

// State 返回内部计数器。
func (g *SignalGenerator) State() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return map[string]interface{}{
		"recordsProcessed": g.state.RecordsProcessed,
		"signalsGenerated": g.state.SignalsGenerated,
		"signalsFailed":    g.state.SignalsFailed,
	}
}

func (g *SignalGenerator) Process(ctx context.Context, flowID string, events []Event) ([]Event, error) {
	report := ReportFrom(ctx)
	log := g.log.WithFlow(flowID)
	var out []Event

	for _, e := range events {
		rec, ok := e.Payload.(models.DeduplicatedRecord)
		if !ok {
			report.Warnf("unexpected payload for event %s", e.ID)
			continue
		}
		g.count(func(s *signalState) { s.RecordsProcessed++ })
		recLog := log.WithField("record_id", rec.RecordID).WithField("entity", rec.EntityName)

		content := rec.FinalContent
		if content == "" {
			content = rec.Content
		}
		analysis, call, err := g.judge.Summarize(ctx, content, judgment.SourceMeta{
			EntityName: rec.EntityName,
			Kind:       rec.Kind,
			CreatedAt:  rec.CreatedAt,
		})
		report.AddCall(call)
		if err != nil {
			g.count(func(s *signalState) { s.SignalsFailed++ })
			report.Warnf("signal generation failed for %s: %v", rec.RecordID, err)
			recLog.WithError(models.NewErrorInfo(err, "judgment_failed")).Warn("signal generation failed")
			continue
		}
		g.count(func(s *signalState) { s.SignalsGenerated++ })

		signal := models.SignalRecord{
			RecordID:       rec.RecordID,
			EntityID:       rec.EntityID,
			EntityName:     rec.EntityName,
			Kind:           rec.Kind,
			SignalAnalysis: analysis,
			Model:          call.Model,
			GeneratedAt:    time.Now().UTC(),
		}
		if e.FlowID != "" && e.FlowID != NoFlow {
			signal.FlowID = e.FlowID
		}
		recLog.Info("signal generated")
		out = append(out, Event{Kind: KindSignalGenerated, FlowID: e.FlowID, Payload: signal})
	}
	return out, nil
}
