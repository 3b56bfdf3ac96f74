package pipeline

import (
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/internal/tracking"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"sort"
	"sync"
	"time"
)

// Processor 是一个批处理阶段的业务逻辑。同一批事件属于同一个 flow，
// 并已按记录的 createdAt 稳定排序。返回的事件会被发布到总线。
// 单条记录的失败应在内部计数并继续；返回 error 表示整批失败。
type Processor interface {
	Name() string
	Process(ctx context.Context, flowID string, events []Event) ([]Event, error)
}

// StateReporter 由需要在执行追踪中暴露内部计数器的 Processor 实现。
type StateReporter interface {
	State() map[string]interface{}
}

// Recorder 记录批次执行情况，*tracking.Tracker 实现了该接口。
type Recorder interface {
	TrackController(ctx context.Context, controllerID, flowID string, batch models.ControllerBatch) (int64, error)
}

// StageOptions 是阶段的调度参数。
type StageOptions struct {
	Interval time.Duration // 批处理周期
	MaxBatch int           // 队列达到该长度时提前触发，0 表示只按周期触发
}

// StageStats 是阶段的运行统计。
type StageStats struct {
	Name        string                 `json:"name"`
	Batches     int64                  `json:"batches"`
	EventsIn    int64                  `json:"eventsIn"`
	EventsOut   int64                  `json:"eventsOut"`
	Failures    int64                  `json:"failures"`
	QueueLength int                    `json:"queueLength"`
	LastRunAt   *time.Time             `json:"lastRunAt,omitempty"`
	State       map[string]interface{} `json:"state,omitempty"`
}

// Stage 周期性地取出输入队列中的事件交给 Processor 处理。
type Stage struct {
	processor Processor
	bus       *Bus
	recorder  Recorder
	opts      StageOptions
	log       *logger.Logger

	mu    sync.Mutex
	queue []Event
	stats StageStats

	// flush 串行执行，保证批次按顺序处理。
	flushMu sync.Mutex
	kick    chan struct{}
}

// NewStage 创建阶段。recorder 为 nil 时不记录执行追踪。
func NewStage(p Processor, bus *Bus, recorder Recorder, opts StageOptions, log *logger.Logger) *Stage {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	return &Stage{
		processor: p,
		bus:       bus,
		recorder:  recorder,
		opts:      opts,
		log:       log.Component(p.Name()),
		stats:     StageStats{Name: p.Name()},
		kick:      make(chan struct{}, 1),
	}
}

// Name 返回阶段名称。
func (s *Stage) Name() string {
	return s.processor.Name()
}

// Enqueue 将事件放入输入队列，可直接作为总线的 Handler。
func (s *Stage) Enqueue(_ context.Context, e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	full := s.opts.MaxBatch > 0 && len(s.queue) >= s.opts.MaxBatch
	s.mu.Unlock()
	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Run 按周期处理队列，直到 ctx 结束。正在处理的批次会完成。
func (s *Stage) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	s.log.WithField("interval", s.opts.Interval.String()).Info("stage started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stage stopped")
			return
		case <-ticker.C:
		case <-s.kick:
		}
		s.Flush(context.WithoutCancel(ctx))
	}
}

// Flush 立即处理队列中的全部事件，返回处理的事件数。
func (s *Stage) Flush(ctx context.Context) int {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	events := s.queue
	s.queue = nil
	s.mu.Unlock()
	if len(events) == 0 {
		return 0
	}

	for _, g := range groupByFlow(events) {
		s.processGroup(ctx, g.flowID, g.events)
	}
	return len(events)
}

type flowGroup struct {
	flowID string
	events []Event
}

// groupByFlow 按 flow ID 分组，组的顺序为该 flow 第一次出现的顺序。
func groupByFlow(events []Event) []flowGroup {
	index := make(map[string]int)
	var groups []flowGroup
	for _, e := range events {
		id := e.FlowID
		if id == "" {
			id = NoFlow
		}
		i, ok := index[id]
		if !ok {
			i = len(groups)
			index[id] = i
			groups = append(groups, flowGroup{flowID: id})
		}
		groups[i].events = append(groups[i].events, e)
	}
	return groups
}

func (s *Stage) processGroup(ctx context.Context, flowID string, events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt().Before(events[j].CreatedAt())
	})

	log := s.log.WithFlow(flowID)
	report := &BatchReport{}
	start := time.Now()

	out, err := s.processor.Process(WithReport(ctx, report), flowID, events)
	elapsed := time.Since(start)
	if err != nil {
		report.Warnf("batch failed: %v", err)
		log.WithError(models.NewErrorInfo(err, "batch_failed")).Error("stage batch failed")
	}
	for i := range out {
		if out[i].FlowID == "" && flowID != NoFlow {
			out[i].FlowID = flowID
		}
	}
	s.bus.Publish(ctx, out...)

	var state map[string]interface{}
	if sr, ok := s.processor.(StateReporter); ok {
		state = sr.State()
	}

	now := time.Now()
	s.mu.Lock()
	s.stats.Batches++
	s.stats.EventsIn += int64(len(events))
	s.stats.EventsOut += int64(len(out))
	if err != nil {
		s.stats.Failures++
	}
	s.stats.LastRunAt = &now
	s.mu.Unlock()

	log.WithPayload(map[string]interface{}{
		"input":       len(events),
		"output":      len(out),
		"duration_ms": elapsed.Milliseconds(),
	}).Info("stage batch processed")

	if s.recorder == nil {
		return
	}
	batch := models.ControllerBatch{
		ControllerName:   s.Name(),
		InputRecordIDs:   recordIDs(events),
		OutputRecordIDs:  recordIDs(out),
		ExternalCalls:    report.Calls(),
		InternalState:    state,
		Warnings:         report.Warnings(),
		ProcessingTimeMs: elapsed.Milliseconds(),
		Timestamp:        now.UnixMilli(),
	}
	if _, err := s.recorder.TrackController(ctx, tracking.GenerateControllerID(), flowID, batch); err != nil {
		log.WithError(models.NewErrorInfo(err, "tracking_failed")).Warn("failed to record stage batch")
	}
}

func recordIDs(events []Event) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.RecordID())
	}
	return ids
}

// Stats 返回运行统计的副本。
func (s *Stage) Stats() StageStats {
	s.mu.Lock()
	stats := s.stats
	stats.QueueLength = len(s.queue)
	s.mu.Unlock()
	if sr, ok := s.processor.(StateReporter); ok {
		stats.State = sr.State()
	}
	return stats
}
