package datasource

import (
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"
)

const (
	defaultInterval = 5 * time.Second
	defaultLimit    = 50
)

// RecordSource 是订阅器依赖的上游查询能力。
type RecordSource interface {
	QueryRecords(ctx context.Context, opts QueryOptions) ([]Record, error)
}

// SubscribeOptions 是单个订阅的参数。
type SubscribeOptions struct {
	Interval time.Duration // 基础轮询间隔
	Jitter   time.Duration // 每次轮询额外增加 [0, Jitter) 的随机延迟
	Limit    int

	OnData         func(records []Record) // 按 createdAt 升序
	OnError        func(err error)
	OnStatusChange func(connected bool)
}

// SubscriptionStats 是单个订阅的运行统计。
type SubscriptionStats struct {
	EntityID      string     `json:"entityId"`
	Active        bool       `json:"active"`
	TotalRecords  int        `json:"totalRecords"`
	Errors        int        `json:"errors"`
	Polls         int        `json:"polls"`
	LastUpdate    *time.Time `json:"lastUpdate"`
	LastTimestamp *time.Time `json:"lastTimestamp"`
}

// Subscriber 按实体轮询上游，并通过 CursorStore 在重启后从上次位置继续。
type Subscriber struct {
	source  RecordSource
	cursors *CursorStore
	log     *logger.Logger
}

// NewSubscriber 创建订阅器。
func NewSubscriber(source RecordSource, cursors *CursorStore, log *logger.Logger) *Subscriber {
	return &Subscriber{
		source:  source,
		cursors: cursors,
		log:     log.Component("subscriber"),
	}
}

// Subscription 是一个运行中的订阅。
type Subscription struct {
	entityID string
	opts     SubscribeOptions
	sub      *Subscriber
	log      *logger.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu     sync.Mutex
	active bool
	cursor models.SubscriptionCursor
	stats  SubscriptionStats
}

// Subscribe 启动对 entityID 的轮询。首次轮询立即进行，之后每隔 Interval+jitter 一次。
// ctx 取消或调用 Stop 后停止调度，正在进行的轮询会执行完毕。
func (s *Subscriber) Subscribe(ctx context.Context, entityID string, opts SubscribeOptions) *Subscription {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	sub := &Subscription{
		entityID: entityID,
		opts:     opts,
		sub:      s,
		log:      s.log.WithField("entity_id", entityID),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		active:   true,
		stats:    SubscriptionStats{EntityID: entityID},
	}
	go sub.run(ctx)
	return sub
}

func (sub *Subscription) run(ctx context.Context) {
	defer close(sub.done)
	defer sub.setInactive()

	sub.restore(ctx)

	for {
		select {
		case <-sub.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		sub.poll(ctx)

		timer := time.NewTimer(sub.nextDelay())
		select {
		case <-sub.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (sub *Subscription) nextDelay() time.Duration {
	d := sub.opts.Interval
	if sub.opts.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(sub.opts.Jitter)))
	}
	return d
}

// restore 加载持久化的游标。
func (sub *Subscription) restore(ctx context.Context) {
	now := time.Now()
	sub.mu.Lock()
	sub.cursor = models.SubscriptionCursor{EntityID: sub.entityID, CreatedAt: now, LastUpdatedAt: now}
	sub.mu.Unlock()

	if sub.sub.cursors == nil {
		return
	}
	saved, err := sub.sub.cursors.Load(ctx, sub.entityID)
	if err != nil {
		sub.log.WithError(models.NewErrorInfo(err, "cursor_load_failed")).Warn("failed to load cursor, starting fresh")
		return
	}
	if saved == nil || saved.LastTimestamp == nil {
		sub.log.Info("no saved cursor, starting fresh subscription")
		return
	}

	sub.mu.Lock()
	sub.cursor = *saved
	sub.stats.TotalRecords = saved.TotalRecordsSeen
	ts := *saved.LastTimestamp
	sub.stats.LastTimestamp = &ts
	sub.mu.Unlock()
	sub.log.WithField("last_timestamp", ts.Format(time.RFC3339Nano)).Info("resuming subscription from saved cursor")
}

func (sub *Subscription) poll(ctx context.Context) {
	sub.mu.Lock()
	after := sub.cursor.LastTimestamp
	sub.stats.Polls++
	sub.mu.Unlock()

	records, err := sub.sub.source.QueryRecords(ctx, QueryOptions{
		EntityID:       sub.entityID,
		Limit:          sub.opts.Limit,
		AfterTimestamp: after,
	})
	if err != nil {
		sub.mu.Lock()
		sub.stats.Errors++
		sub.mu.Unlock()
		if IsRateLimited(err) {
			sub.log.Warn("upstream rate limited, retrying on next poll")
		} else {
			sub.log.WithError(models.NewErrorInfo(err, "upstream_request_failed")).Error("poll failed")
		}
		if sub.opts.OnError != nil {
			sub.opts.OnError(err)
		}
		if sub.opts.OnStatusChange != nil {
			sub.opts.OnStatusChange(false)
		}
		return
	}

	records = dropStale(records, after)
	if len(records) > 0 {
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		})

		if sub.opts.OnData != nil {
			sub.opts.OnData(records)
		}
		sub.advance(ctx, records)
	}

	if sub.opts.OnStatusChange != nil {
		sub.opts.OnStatusChange(true)
	}
}

// dropStale 丢弃 createdAt 早于游标的记录，防止上游不遵守 afterTimestamp 时重复投递。
func dropStale(records []Record, after *time.Time) []Record {
	if after == nil {
		return records
	}
	kept := records[:0]
	for _, r := range records {
		if !r.CreatedAt.Before(*after) {
			kept = append(kept, r)
		}
	}
	return kept
}

// advance 将游标移动到最新记录的 createdAt + 1ms 并持久化。
func (sub *Subscription) advance(ctx context.Context, records []Record) {
	next := records[len(records)-1].CreatedAt.Add(time.Millisecond)
	now := time.Now()

	sub.mu.Lock()
	if sub.cursor.LastTimestamp != nil && next.Before(*sub.cursor.LastTimestamp) {
		next = *sub.cursor.LastTimestamp
	}
	sub.cursor.LastTimestamp = &next
	sub.cursor.TotalRecordsSeen += len(records)
	sub.cursor.LastUpdatedAt = now
	cursor := sub.cursor
	sub.stats.TotalRecords = cursor.TotalRecordsSeen
	sub.stats.LastUpdate = &now
	ts := next
	sub.stats.LastTimestamp = &ts
	sub.mu.Unlock()

	sub.log.WithField("count", len(records)).
		WithField("last_timestamp", next.Format(time.RFC3339Nano)).
		Info("received new records")

	if sub.sub.cursors == nil {
		return
	}
	if err := sub.sub.cursors.Save(ctx, cursor); err != nil {
		sub.log.WithError(models.NewErrorInfo(err, "persistence_unavailable")).
			Warn("failed to persist cursor, keeping in-memory value")
	}
}

func (sub *Subscription) setInactive() {
	sub.mu.Lock()
	sub.active = false
	sub.mu.Unlock()
}

// EntityID 返回订阅的实体ID。
func (sub *Subscription) EntityID() string {
	return sub.entityID
}

// Stop 停止后续调度。可重复调用。
func (sub *Subscription) Stop() {
	sub.stopOnce.Do(func() {
		close(sub.stop)
		sub.log.Info("subscription stopped")
	})
	sub.setInactive()
}

// Done 在订阅的 goroutine 退出后关闭。
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// IsActive 表示订阅是否仍在调度。
func (sub *Subscription) IsActive() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.active
}

// Stats 返回统计信息的副本。
func (sub *Subscription) Stats() SubscriptionStats {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	stats := sub.stats
	stats.Active = sub.active
	return stats
}
