// Package pipeline 实现了数据源记录的处理流水线：
// 接收 → 分类 → 去重 → 信号生成，各阶段通过事件总线串联。
package pipeline

import (
	"SignalFlow/backend/go/internal/config"
	"SignalFlow/backend/go/internal/judgment"
	"SignalFlow/backend/go/internal/similarity"
	"SignalFlow/backend/go/internal/tracking"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"sync"
	"time"
)

// Config 是流水线各阶段的参数。
type Config struct {
	Classifier StageOptions
	Dedup      StageOptions
	Signal     StageOptions
	Dedupe     DedupOptions
}

// ConfigFromApp 从应用配置构造流水线参数。
func ConfigFromApp(c config.PipelineConfig) Config {
	return Config{
		Classifier: StageOptions{Interval: config.Duration(c.Classifier.Interval, 5*time.Second), MaxBatch: c.Classifier.MaxBatch},
		Dedup:      StageOptions{Interval: config.Duration(c.Dedup.Interval, 8*time.Second), MaxBatch: c.Dedup.MaxBatch},
		Signal:     StageOptions{Interval: config.Duration(c.Signal.Interval, 10*time.Second), MaxBatch: c.Signal.MaxBatch},
		Dedupe: DedupOptions{
			Partition:         c.Dedupe.Partition,
			TopK:              c.Dedupe.TopK,
			Threshold:         c.Dedupe.Threshold,
			MaxProcessedChars: c.Dedupe.MaxProcessedChars,
		},
	}
}

// Pipeline 持有总线、入口与三个阶段。
type Pipeline struct {
	bus        *Bus
	pump       *Pump
	classifier *Classifier
	dedup      *Deduplicator
	signal     *SignalGenerator
	stages     []*Stage
	log        *logger.Logger
}

// New 组装流水线。tracker 为 nil 时不记录执行追踪。
func New(judge judgment.Capability, store *similarity.Store, tracker *tracking.Tracker, cfg Config, log *logger.Logger) *Pipeline {
	bus := NewBus(log)
	p := &Pipeline{
		bus:        bus,
		pump:       NewPump(bus, log),
		classifier: NewClassifier(judge, log),
		dedup:      NewDeduplicator(judge, store, cfg.Dedupe, log),
		signal:     NewSignalGenerator(judge, log),
		log:        log.Component("pipeline"),
	}

	// 避免把 nil 的 *Tracker 包装成非 nil 的接口。
	var recorder Recorder
	if tracker != nil {
		recorder = tracker
	}

	classify := NewStage(p.classifier, bus, recorder, cfg.Classifier, log)
	dedupe := NewStage(p.dedup, bus, recorder, cfg.Dedup, log)
	signal := NewStage(p.signal, bus, recorder, cfg.Signal, log)
	p.stages = []*Stage{classify, dedupe, signal}

	bus.Subscribe(KindRecordReceived, classify.Enqueue)
	bus.Subscribe(KindRecordClassified, dedupe.Enqueue)
	bus.Subscribe(KindRecordDeduplicated, signal.Enqueue)

	if tracker != nil {
		for _, s := range p.stages {
			tracker.Registry().Register(s.Name())
		}
	}
	return p
}

// Bus 返回事件总线，用于订阅输出事件或挂载 Sink。
func (p *Pipeline) Bus() *Bus { return p.bus }

// Pump 返回流水线入口。
func (p *Pipeline) Pump() *Pump { return p.pump }

// DedupPartition 返回去重使用的相似度分区。
func (p *Pipeline) DedupPartition() string { return p.dedup.Partition() }

// Run 启动全部阶段并阻塞到 ctx 结束。各阶段停止后会把队列中剩余的事件处理完再返回，
// 这些记录的游标已经前移，丢弃后重启也不会再拉取。
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range p.stages {
		wg.Add(1)
		go func(s *Stage) {
			defer wg.Done()
			s.Run(ctx)
		}(s)
	}
	p.log.WithField("stages", len(p.stages)).Info("pipeline started")
	wg.Wait()
	if n := p.Drain(context.WithoutCancel(ctx)); n > 0 {
		p.log.WithField("events", n).Info("drained queued events on shutdown")
	}
	p.log.Info("pipeline stopped")
}

// Drain 按阶段顺序反复 flush，直到所有队列为空，返回处理的事件总数。
func (p *Pipeline) Drain(ctx context.Context) int {
	total := 0
	for {
		n := 0
		for _, s := range p.stages {
			n += s.Flush(ctx)
		}
		if n == 0 {
			return total
		}
		total += n
	}
}

// Stats 返回各阶段的运行统计。
func (p *Pipeline) Stats() []StageStats {
	stats := make([]StageStats, 0, len(p.stages))
	for _, s := range p.stages {
		stats = append(stats, s.Stats())
	}
	return stats
}
