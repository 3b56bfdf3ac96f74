// Package housekeeping 按 cron 表达式周期性地汇总流水线状态并写入日志。
package housekeeping

import (
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/internal/pipeline/service"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// StatusSource 提供巡检所需的状态，*service.SignalFlowService 实现了该接口。
type StatusSource interface {
	DataSourceStatus() service.DataSourceStatus
	Cursors(ctx context.Context) (*service.CursorReport, error)
	PartitionStats(ctx context.Context, partition string) (*models.PartitionStats, error)
}

// Reporter 定时输出订阅、阶段、游标与相似度分区的汇总。
type Reporter struct {
	source    StatusSource
	partition string
	schedule  string
	log       *logger.Logger

	mu   sync.Mutex
	cron *cron.Cron
	runs int
}

// NewReporter 创建巡检任务，schedule 为 cron 表达式，支持 "@every 5m" 这类写法。
func NewReporter(source StatusSource, partition, schedule string, log *logger.Logger) *Reporter {
	return &Reporter{source: source, partition: partition, schedule: schedule, log: log.Component("housekeeping")}
}

// Start 注册并启动定时任务。重复调用不会重复启动。
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("无效的巡检 cron 表达式 '%s': %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.log.WithField("schedule", r.schedule).Info("housekeeping started")
	return nil
}

// Stop 停止定时任务，并等待正在执行的任务完成。
func (r *Reporter) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.log.Info("housekeeping stopped")
}

// Runs 返回已执行的巡检次数。
func (r *Reporter) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// RunOnce 执行一次巡检。单项失败只记录警告。
func (r *Reporter) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	payload := map[string]interface{}{}

	status := r.source.DataSourceStatus()
	if status.Subscriptions != nil {
		payload["entities"] = status.Subscriptions.TotalEntities
		payload["activeSubscriptions"] = status.Subscriptions.ActiveSubscriptions
		payload["pendingStarts"] = status.Subscriptions.PendingStarts
		payload["persistentCursors"] = status.Subscriptions.Persistent
	}
	stages := make(map[string]interface{}, len(status.Stages))
	for _, s := range status.Stages {
		stages[s.Name] = map[string]interface{}{
			"batches":   s.Batches,
			"eventsIn":  s.EventsIn,
			"eventsOut": s.EventsOut,
			"failures":  s.Failures,
			"queue":     s.QueueLength,
		}
	}
	payload["stages"] = stages

	if report, err := r.source.Cursors(ctx); err != nil {
		r.log.WithError(models.NewErrorInfo(err, "cursor_stats_failed")).Warn("failed to read cursor stats")
	} else {
		payload["cursorEntities"] = report.Stats.TotalEntities
		payload["cursorRecords"] = report.Stats.TotalRecords
	}

	if r.partition != "" {
		if stats, err := r.source.PartitionStats(ctx, r.partition); err != nil {
			r.log.WithError(models.NewErrorInfo(err, "partition_stats_failed")).Warn("failed to read partition stats")
		} else {
			payload["similarityEntries"] = stats.Count
		}
	}

	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	r.log.WithPayload(payload).Info("pipeline status report")
}
