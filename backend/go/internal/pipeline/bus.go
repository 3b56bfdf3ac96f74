package pipeline

import (
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler 处理一个事件。处理应当很快返回，耗时操作交给阶段的队列。
type Handler func(ctx context.Context, e Event)

// Sink 是进程外的事件去向，例如 Kafka。
type Sink interface {
	Publish(ctx context.Context, events ...Event) error
}

// Bus 是进程内的事件分发器。
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventKind][]Handler
	sinks    []Sink
	log      *logger.Logger
}

// NewBus 创建事件总线。
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventKind][]Handler),
		log:      log.Component("event-bus"),
	}
}

// Subscribe 注册某类事件的处理函数。
func (b *Bus) Subscribe(kind EventKind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// AddSink 增加一个外部去向。
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish 按顺序将事件分发给订阅者与外部去向。外部去向的失败只记录日志。
func (b *Bus) Publish(ctx context.Context, events ...Event) {
	if len(events) == 0 {
		return
	}
	now := time.Now().UTC()
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.NewString()
		}
		if events[i].EmittedAt.IsZero() {
			events[i].EmittedAt = now
		}
	}

	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, e := range events {
		b.mu.RLock()
		handlers := append([]Handler(nil), b.handlers[e.Kind]...)
		b.mu.RUnlock()
		for _, h := range handlers {
			h(ctx, e)
		}
	}

	for _, s := range sinks {
		if err := s.Publish(ctx, events...); err != nil {
			b.log.WithError(models.NewErrorInfo(err, "sink_publish_failed")).
				WithField("events", len(events)).
				Warn("failed to publish events to sink")
		}
	}
}
