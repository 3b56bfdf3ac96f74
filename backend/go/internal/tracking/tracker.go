// Package tracking 记录每个处理阶段在每个 flow 中处理的批次，供运维接口审计。
//
// Key 布局：
//
//	controller:<name>:flow:<flowId>:batch     批次计数 (INCR)
//	controller:<name>:flow:<flowId>:batches   批次明细 (LIST，新的在前)
//	controller:<name>:flow:<flowId>:summary   累计汇总
//	controller:<name>:flows                   该 controller 参与过的 flow (LIST，有上限)
//	controller:<name>:latest                  最近一个批次
//	controller:instance:<controllerId>        实例最近一个批次
//	flow:<flowId>                             FlowTrace
//	flow:<flowId>:input / :output             注入与输出
//	flow:<flowId>:controllers                 参与的 controller (SET)
package tracking

import (
	"SignalFlow/backend/go/internal/kv"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTraceTTL     = time.Hour
	DefaultHistoryLimit = 100
)

// ErrNotFound 表示请求的 flow 或 controller 数据不存在或已过期。
var ErrNotFound = errors.New("tracking data not found")

// Options 是追踪器的参数。
type Options struct {
	TraceTTL     time.Duration
	HistoryLimit int
}

// Tracker 将执行记录写入 KV 存储。
type Tracker struct {
	store        kv.Store
	registry     *Registry
	traceTTL     time.Duration
	historyLimit int
	log          *logger.Logger
	now          func() time.Time

	// 同一 (controller, flow) 的汇总是读改写，进程内串行化。
	summaryMu sync.Mutex
}

// NewTracker 创建追踪器。registry 为 nil 时会创建一个新的注册表。
func NewTracker(store kv.Store, registry *Registry, opts Options, log *logger.Logger) *Tracker {
	if opts.TraceTTL <= 0 {
		opts.TraceTTL = DefaultTraceTTL
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Tracker{
		store:        store,
		registry:     registry,
		traceTTL:     opts.TraceTTL,
		historyLimit: opts.HistoryLimit,
		log:          log.Component("tracker"),
		now:          time.Now,
	}
}

// Registry 返回 controller 注册表。
func (t *Tracker) Registry() *Registry {
	return t.registry
}

func controllerFlowKey(name, flowID string) string {
	return fmt.Sprintf("controller:%s:flow:%s", name, flowID)
}

func (t *Tracker) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.store.Set(ctx, key, string(data), ttl)
}

func (t *Tracker) getJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := t.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

// TrackController 记录一个批次，返回分配的批次号。
func (t *Tracker) TrackController(ctx context.Context, controllerID, flowID string, batch models.ControllerBatch) (int64, error) {
	name := batch.ControllerName
	if name == "" {
		return 0, errors.New("controller name is required")
	}
	base := controllerFlowKey(name, flowID)
	if batch.Timestamp == 0 {
		batch.Timestamp = t.now().UnixMilli()
	}

	n, err := t.store.Incr(ctx, base+":batch")
	if err != nil {
		return 0, fmt.Errorf("incrementing batch counter: %w", err)
	}
	if err := t.store.Expire(ctx, base+":batch", t.traceTTL); err != nil {
		return 0, err
	}

	batch.ControllerID = controllerID
	batch.FlowID = flowID
	batch.BatchNumber = n

	if err := t.setJSON(ctx, "controller:instance:"+controllerID, batch, t.traceTTL); err != nil {
		return 0, fmt.Errorf("storing controller instance: %w", err)
	}
	controllersKey := "flow:" + flowID + ":controllers"
	if err := t.store.SAdd(ctx, controllersKey, name); err != nil {
		return 0, err
	}
	if err := t.store.Expire(ctx, controllersKey, t.traceTTL); err != nil {
		return 0, err
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return 0, err
	}
	if err := t.store.LPush(ctx, base+":batches", string(data)); err != nil {
		return 0, fmt.Errorf("appending batch: %w", err)
	}
	if err := t.store.Expire(ctx, base+":batches", t.traceTTL); err != nil {
		return 0, err
	}

	if err := t.updateSummary(ctx, base, name, flowID, n, batch); err != nil {
		return 0, fmt.Errorf("updating summary: %w", err)
	}

	if n == 1 {
		flowsKey := "controller:" + name + ":flows"
		if err := t.store.LPush(ctx, flowsKey, flowID); err != nil {
			return 0, err
		}
		if err := t.store.LTrim(ctx, flowsKey, 0, int64(t.historyLimit-1)); err != nil {
			return 0, err
		}
	}

	if err := t.store.Set(ctx, "controller:"+name+":latest", string(data), 0); err != nil {
		return 0, err
	}

	t.log.WithFlow(flowID).WithPayload(map[string]interface{}{
		"controller": name,
		"batch":      n,
		"input":      len(batch.InputRecordIDs),
		"output":     len(batch.OutputRecordIDs),
	}).Debug("tracked controller batch")
	return n, nil
}

func (t *Tracker) updateSummary(ctx context.Context, base, name, flowID string, n int64, batch models.ControllerBatch) error {
	t.summaryMu.Lock()
	defer t.summaryMu.Unlock()

	var summary models.FlowSummary
	err := t.getJSON(ctx, base+":summary", &summary)
	switch {
	case errors.Is(err, ErrNotFound):
		summary = models.FlowSummary{
			ControllerName: name,
			FlowID:         flowID,
			FirstBatchTime: batch.Timestamp,
		}
	case err != nil:
		return err
	}

	summary.TotalBatches = n
	summary.TotalInputEvents += len(batch.InputRecordIDs)
	summary.TotalOutputEvents += len(batch.OutputRecordIDs)
	summary.TotalProcessingTimeMs += batch.ProcessingTimeMs
	summary.LastBatchTime = batch.Timestamp
	if summary.FirstBatchTime == 0 || batch.Timestamp < summary.FirstBatchTime {
		summary.FirstBatchTime = batch.Timestamp
	}
	return t.setJSON(ctx, base+":summary", summary, t.traceTTL)
}

func (t *Tracker) loadExecution(ctx context.Context, name, flowID string) (*models.ControllerFlowExecution, error) {
	base := controllerFlowKey(name, flowID)
	var summary models.FlowSummary
	if err := t.getJSON(ctx, base+":summary", &summary); err != nil {
		return nil, err
	}
	raws, err := t.store.LRange(ctx, base+":batches", 0, -1)
	if err != nil {
		return nil, err
	}
	batches := make([]models.ControllerBatch, 0, len(raws))
	// 列表新的在前，反转为时间顺序。
	for i := len(raws) - 1; i >= 0; i-- {
		var b models.ControllerBatch
		if err := json.Unmarshal([]byte(raws[i]), &b); err != nil {
			t.log.WithField("key", base+":batches").Warn("skipping malformed batch")
			continue
		}
		batches = append(batches, b)
	}
	return &models.ControllerFlowExecution{FlowSummary: summary, Batches: batches}, nil
}

// GetControllerHistory 返回 controller 最近 limit 个 flow 的执行记录，最近的在前。
func (t *Tracker) GetControllerHistory(ctx context.Context, name string, limit int) ([]models.ControllerFlowExecution, error) {
	if limit <= 0 {
		limit = 10
	}
	flowIDs, err := t.store.LRange(ctx, "controller:"+name+":flows", 0, int64(limit-1))
	if err != nil {
		return nil, err
	}
	history := make([]models.ControllerFlowExecution, 0, len(flowIDs))
	for _, flowID := range flowIDs {
		exec, err := t.loadExecution(ctx, name, flowID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		history = append(history, *exec)
	}
	return history, nil
}

// GetControllerFlow 返回 controller 在某个 flow 中的执行记录。
func (t *Tracker) GetControllerFlow(ctx context.Context, name, flowID string) (*models.ControllerFlowExecution, error) {
	return t.loadExecution(ctx, name, flowID)
}

// GetLatest 返回 controller 最近处理的批次。
func (t *Tracker) GetLatest(ctx context.Context, name string) (*models.ControllerBatch, error) {
	var batch models.ControllerBatch
	if err := t.getJSON(ctx, "controller:"+name+":latest", &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetAvailableControllers 优先返回注册表中的 controller，为空时从历史 key 中扫描。
func (t *Tracker) GetAvailableControllers(ctx context.Context) ([]string, error) {
	if names := t.registry.Names(); len(names) > 0 {
		return names, nil
	}
	keys, err := t.store.Keys(ctx, "controller:*:flows")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var names []string
	for _, key := range keys {
		name := strings.TrimSuffix(strings.TrimPrefix(key, "controller:"), ":flows")
		if name == "" || strings.Contains(name, ":") {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// TrackFlowStart 开始追踪一个注入的 flow。
func (t *Tracker) TrackFlowStart(ctx context.Context, flowID string, inputs []models.SourceRecord) error {
	trace := models.FlowTrace{
		FlowID:        flowID,
		InputRecords:  inputs,
		OutputRecords: []string{},
		Controllers:   []string{},
		StartTime:     t.now().UnixMilli(),
		Status:        models.FlowStatusProcessing,
	}
	if err := t.setJSON(ctx, "flow:"+flowID, trace, t.traceTTL); err != nil {
		return fmt.Errorf("storing flow trace: %w", err)
	}
	if err := t.setJSON(ctx, "flow:"+flowID+":input", inputs, t.traceTTL); err != nil {
		return err
	}
	t.log.WithFlow(flowID).WithField("inputs", len(inputs)).Info("started tracking flow")
	return nil
}

// TrackFlowEnd 将 flow 标记为结束。status 为空时视为 completed。
func (t *Tracker) TrackFlowEnd(ctx context.Context, flowID string, outputs []string, status models.FlowStatus) (*models.FlowTrace, error) {
	var trace models.FlowTrace
	if err := t.getJSON(ctx, "flow:"+flowID, &trace); err != nil {
		return nil, err
	}
	if status == "" {
		status = models.FlowStatusCompleted
	}
	end := t.now().UnixMilli()
	if outputs == nil {
		outputs = []string{}
	}
	trace.OutputRecords = outputs
	trace.EndTime = &end
	trace.Status = status

	if err := t.setJSON(ctx, "flow:"+flowID, trace, t.traceTTL); err != nil {
		return nil, err
	}
	if err := t.setJSON(ctx, "flow:"+flowID+":output", outputs, t.traceTTL); err != nil {
		return nil, err
	}
	t.log.WithFlow(flowID).WithPayload(map[string]interface{}{
		"inputs":      len(trace.InputRecords),
		"outputs":     len(outputs),
		"duration_ms": end - trace.StartTime,
		"status":      string(status),
	}).Info("flow finished")
	return &trace, nil
}

// GetFlowTrace 返回 flow 的追踪数据及每个 controller 的汇总。
func (t *Tracker) GetFlowTrace(ctx context.Context, flowID string) (*models.FlowTrace, error) {
	var trace models.FlowTrace
	if err := t.getJSON(ctx, "flow:"+flowID, &trace); err != nil {
		return nil, err
	}
	controllers, err := t.store.SMembers(ctx, "flow:"+flowID+":controllers")
	if err != nil {
		return nil, err
	}
	sort.Strings(controllers)
	trace.Controllers = controllers
	trace.ControllerData = make(map[string]models.FlowSummary, len(controllers))
	for _, name := range controllers {
		var summary models.FlowSummary
		err := t.getJSON(ctx, controllerFlowKey(name, flowID)+":summary", &summary)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		trace.ControllerData[name] = summary
	}
	return &trace, nil
}

// GetAllFlows 返回已追踪的 flow ID，按 ID 倒序。
func (t *Tracker) GetAllFlows(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	keys, err := t.store.Keys(ctx, "flow:*")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, key := range keys {
		id := strings.TrimPrefix(key, "flow:")
		if id == "" || strings.Contains(id, ":") {
			continue
		}
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// ClearAll 删除全部追踪数据，返回删除的 key 数量。
func (t *Tracker) ClearAll(ctx context.Context) (int, error) {
	total := 0
	for _, pattern := range []string{"controller:*", "flow:*"} {
		keys, err := t.store.Keys(ctx, pattern)
		if err != nil {
			return total, err
		}
		if len(keys) == 0 {
			continue
		}
		if err := t.store.Del(ctx, keys...); err != nil {
			return total, err
		}
		total += len(keys)
		t.log.WithField("pattern", pattern).WithField("count", len(keys)).Info("deleted tracking keys")
	}
	return total, nil
}
