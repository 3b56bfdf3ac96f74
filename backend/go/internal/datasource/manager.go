package datasource

import (
	"SignalFlow/backend/go/internal/config"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// EntitySource 是管理器依赖的实体列表查询能力。
type EntitySource interface {
	Entities(ctx context.Context) ([]models.EntityInfo, error)
}

// Upstream 同时提供实体列表与记录查询，*Client 实现了该接口。
type Upstream interface {
	EntitySource
	RecordSource
}

// RecordHandler 接收订阅到的单条记录。
type RecordHandler func(ctx context.Context, record models.SourceRecord)

// ManagerOptions 是管理器的调度参数。
type ManagerOptions struct {
	Interval   time.Duration // 基础轮询间隔
	Jitter     time.Duration // 每个实体的间隔额外增加 [0, Jitter) 的随机值
	StartDelay time.Duration // 第 i 个实体在 i*StartDelay 后启动
	Limit      int
}

// OptionsFromConfig 从数据源配置生成管理器参数。
func OptionsFromConfig(cfg config.DataSourceConfig) ManagerOptions {
	return ManagerOptions{
		Interval:   config.Duration(cfg.SubscriptionInterval, 3*time.Minute),
		Jitter:     config.Duration(cfg.IntervalJitter, 2*time.Minute),
		StartDelay: config.Duration(cfg.SubscriptionStartDelay, 5*time.Second),
		Limit:      cfg.Limit,
	}
}

// EntitySummary 是状态接口中的实体摘要。
type EntitySummary struct {
	ID    string            `json:"id"`
	Name  string            `json:"name"`
	Type  models.SourceKind `json:"type"`
	Count int               `json:"count"`
}

// Status 是管理器的运行状态。
type Status struct {
	TotalEntities       int                 `json:"totalEntities"`
	ActiveSubscriptions int                 `json:"activeSubscriptions"`
	PendingStarts       int                 `json:"pendingStarts"`
	Persistent          bool                `json:"persistent"`
	Entities            []EntitySummary     `json:"entities"`
	Subscriptions       []SubscriptionStats `json:"subscriptions"`
}

// Manager 为每个实体运行一个订阅。
type Manager struct {
	upstream   Upstream
	subscriber *Subscriber
	cursors    *CursorStore
	registry   *EntityRegistry
	opts       ManagerOptions
	log        *logger.Logger

	// afterFunc 延迟执行 f，返回取消函数。
	afterFunc func(d time.Duration, f func()) func() bool

	mu      sync.Mutex
	subs    map[string]*Subscription
	pending map[string]func() bool
}

// NewManager 创建订阅管理器。
func NewManager(upstream Upstream, cursors *CursorStore, registry *EntityRegistry, opts ManagerOptions, log *logger.Logger) *Manager {
	if registry == nil {
		registry = NewEntityRegistry()
	}
	log = log.Component("datasource-manager")
	return &Manager{
		upstream:   upstream,
		subscriber: NewSubscriber(upstream, cursors, log),
		cursors:    cursors,
		registry:   registry,
		opts:       opts,
		log:        log,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		subs:    make(map[string]*Subscription),
		pending: make(map[string]func() bool),
	}
}

// Initialize 从上游获取实体列表。
func (m *Manager) Initialize(ctx context.Context) ([]models.EntityInfo, error) {
	entities, err := m.upstream.Entities(ctx)
	if err != nil {
		m.log.WithError(models.NewErrorInfo(err, "upstream_request_failed")).Error("failed to fetch entities")
		return nil, fmt.Errorf("initializing datasource manager: %w", err)
	}
	m.registry.Set(entities)
	m.log.WithField("count", len(entities)).Info("datasource entities loaded")
	return entities, nil
}

// StartSubscription 启动单个实体的订阅。重复调用只记录警告。
func (m *Manager) StartSubscription(ctx context.Context, entityID string, handler RecordHandler) error {
	entity, ok := m.registry.Get(entityID)
	if !ok {
		m.log.WithField("entity_id", entityID).Error("entity does not exist")
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	m.start(ctx, entity, handler)
	return nil
}

// StartAllSubscriptions 错开启动全部实体的订阅，返回计划启动的数量。
func (m *Manager) StartAllSubscriptions(ctx context.Context, handler RecordHandler) int {
	return m.startStaggered(ctx, m.registry.All(), handler)
}

// StartEnabled 只启动 entityIDs 中列出的实体；列表为空时启动全部。
func (m *Manager) StartEnabled(ctx context.Context, entityIDs []string, handler RecordHandler) int {
	if len(entityIDs) == 0 {
		return m.StartAllSubscriptions(ctx, handler)
	}
	var selected []models.EntityInfo
	for _, id := range entityIDs {
		entity, ok := m.registry.Get(id)
		if !ok {
			m.log.WithField("entity_id", id).Warn("configured subscription not found upstream")
			continue
		}
		selected = append(selected, entity)
	}
	return m.startStaggered(ctx, selected, handler)
}

func (m *Manager) startStaggered(ctx context.Context, entities []models.EntityInfo, handler RecordHandler) int {
	m.log.WithField("count", len(entities)).
		WithField("interval", m.opts.Interval.String()).
		WithField("start_delay", m.opts.StartDelay.String()).
		Info("starting subscriptions")

	scheduled := 0
	for i, entity := range entities {
		delay := time.Duration(i) * m.opts.StartDelay
		m.mu.Lock()
		_, running := m.subs[entity.EntityID]
		_, queued := m.pending[entity.EntityID]
		if running || queued {
			m.mu.Unlock()
			m.log.WithField("entity", entity.Name()).Warn("entity is already subscribed")
			continue
		}
		// 占位，避免 afterFunc 同步执行时与 pending 记录竞争。
		m.pending[entity.EntityID] = func() bool { return false }
		m.mu.Unlock()

		entity := entity
		cancel := m.afterFunc(delay, func() {
			m.mu.Lock()
			_, stillPending := m.pending[entity.EntityID]
			delete(m.pending, entity.EntityID)
			m.mu.Unlock()
			if stillPending && ctx.Err() == nil {
				m.start(ctx, entity, handler)
			}
		})

		m.mu.Lock()
		if _, ok := m.pending[entity.EntityID]; ok {
			m.pending[entity.EntityID] = cancel
		}
		m.mu.Unlock()
		scheduled++
	}
	return scheduled
}

func (m *Manager) start(ctx context.Context, entity models.EntityInfo, handler RecordHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[entity.EntityID]; ok {
		m.log.WithField("entity", entity.Name()).Warn("entity is already subscribed")
		return
	}

	interval := m.opts.Interval
	if m.opts.Jitter > 0 {
		interval += time.Duration(rand.Int63n(int64(m.opts.Jitter)))
	}
	log := m.log.WithField("entity", entity.Name())

	sub := m.subscriber.Subscribe(ctx, entity.EntityID, SubscribeOptions{
		Interval: interval,
		Limit:    m.opts.Limit,
		OnData: func(records []Record) {
			log.WithField("count", len(records)).Info("forwarding new records")
			for _, r := range records {
				handler(ctx, r.ToSourceRecord(entity))
			}
		},
		OnError: func(err error) {
			if IsRateLimited(err) {
				log.Warn("rate limited, will retry on next poll")
			}
		},
		OnStatusChange: func(connected bool) {
			log.WithField("connected", connected).Debug("subscription status")
		},
	})
	m.subs[entity.EntityID] = sub
	log.WithField("interval", interval.String()).Info("subscription started")
}

// StopAllSubscriptions 停止全部订阅并取消尚未启动的订阅，
// 等待正在进行的轮询（包括游标保存）完成后返回。
func (m *Manager) StopAllSubscriptions() {
	m.mu.Lock()
	for id, cancel := range m.pending {
		cancel()
		delete(m.pending, id)
	}
	stopped := make([]*Subscription, 0, len(m.subs))
	for id, sub := range m.subs {
		sub.Stop()
		stopped = append(stopped, sub)
		delete(m.subs, id)
	}
	m.mu.Unlock()

	for _, sub := range stopped {
		<-sub.Done()
	}
	m.log.WithField("stopped", len(stopped)).Info("all subscriptions stopped")
}

// IsSubscribed 判断实体是否已有运行中的订阅。
func (m *Manager) IsSubscribed(entityID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[entityID]
	return ok
}

// GetStatus 返回实体与订阅的状态。
func (m *Manager) GetStatus() Status {
	entities := m.registry.All()
	status := Status{
		TotalEntities: len(entities),
		Entities:      make([]EntitySummary, 0, len(entities)),
		Persistent:    m.cursors != nil && m.cursors.Persistent(),
	}
	for _, e := range entities {
		status.Entities = append(status.Entities, EntitySummary{
			ID:    e.EntityID,
			Name:  e.Name(),
			Type:  e.DataType,
			Count: e.Count,
		})
	}

	m.mu.Lock()
	status.ActiveSubscriptions = len(m.subs)
	status.PendingStarts = len(m.pending)
	for _, e := range entities {
		if sub, ok := m.subs[e.EntityID]; ok {
			status.Subscriptions = append(status.Subscriptions, sub.Stats())
		}
	}
	m.mu.Unlock()
	return status
}

// GetEntity 根据ID获取实体。
func (m *Manager) GetEntity(entityID string) (models.EntityInfo, bool) {
	return m.registry.Get(entityID)
}

// AvailableEntities 返回全部实体。
func (m *Manager) AvailableEntities() []models.EntityInfo {
	return m.registry.All()
}

// FindEntityByName 按名称或ID模糊查找实体。
func (m *Manager) FindEntityByName(term string) (models.EntityInfo, bool) {
	return m.registry.FindByName(term)
}

// Cursors 返回游标存储。
func (m *Manager) Cursors() *CursorStore {
	return m.cursors
}
