package pipeline

import (
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"context"
)

// Pump 是流水线的入口，将记录作为 KindRecordReceived 事件发布。
type Pump struct {
	bus *Bus
	log *logger.Logger
}

// NewPump 创建入口。
func NewPump(bus *Bus, log *logger.Logger) *Pump {
	return &Pump{bus: bus, log: log.Component("datasource-pump")}
}

// PumpRecord 泵入一条记录，flowID 可以为空。
func (p *Pump) PumpRecord(ctx context.Context, rec models.SourceRecord, flowID string) {
	log := p.log.WithField("record_id", rec.RecordID).WithField("entity", rec.EntityName)
	if flowID != "" {
		log = log.WithFlow(flowID)
	}
	log.Debug("pumping record")
	p.bus.Publish(ctx, Event{Kind: KindRecordReceived, FlowID: flowID, Payload: rec})
}

// Handle 是不带 flow ID 的 PumpRecord，签名与订阅管理器的回调一致。
func (p *Pump) Handle(ctx context.Context, rec models.SourceRecord) {
	p.PumpRecord(ctx, rec, "")
}
