package datasource

import (
	"SignalFlow/backend/go/internal/kv"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultKeyPrefix 是游标在 KV 中的默认前缀。
const DefaultKeyPrefix = "datasource:subscription:"

// CursorStats 是全部游标的汇总。
type CursorStats struct {
	TotalEntities   int        `json:"totalEntities"`
	TotalRecords    int        `json:"totalRecords"`
	OldestTimestamp *time.Time `json:"oldestTimestamp"`
	NewestTimestamp *time.Time `json:"newestTimestamp"`
}

// CursorStore 持久化每个实体的订阅游标。
// 内存副本始终保留；persistent 为 false 或 KV 写入失败时只依赖内存副本。
type CursorStore struct {
	store      kv.Store
	prefix     string
	persistent bool
	log        *logger.Logger

	mu  sync.RWMutex
	mem map[string]models.SubscriptionCursor
}

// NewCursorStore 创建游标存储。store 可以为 nil，此时只使用内存。
func NewCursorStore(store kv.Store, prefix string, persistent bool, log *logger.Logger) *CursorStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if store == nil {
		persistent = false
	}
	return &CursorStore{
		store:      store,
		prefix:     prefix,
		persistent: persistent,
		log:        log.Component("cursor-store"),
		mem:        make(map[string]models.SubscriptionCursor),
	}
}

// Persistent 表示游标是否写入 KV。
func (s *CursorStore) Persistent() bool {
	return s.persistent
}

func (s *CursorStore) key(entityID string) string {
	return s.prefix + entityID
}

// Load 读取实体的游标，不存在时返回 nil。
func (s *CursorStore) Load(ctx context.Context, entityID string) (*models.SubscriptionCursor, error) {
	if s.persistent {
		raw, err := s.store.Get(ctx, s.key(entityID))
		switch {
		case err == nil:
			var cursor models.SubscriptionCursor
			if err := json.Unmarshal([]byte(raw), &cursor); err != nil {
				return nil, fmt.Errorf("decoding cursor for %s: %w", entityID, err)
			}
			s.remember(cursor)
			return &cursor, nil
		case errors.Is(err, kv.ErrNotFound):
		default:
			s.log.WithError(models.NewErrorInfo(err, "persistence_unavailable")).
				WithField("entity_id", entityID).
				Warn("failed to load cursor, falling back to memory")
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if cursor, ok := s.mem[entityID]; ok {
		return &cursor, nil
	}
	return nil, nil
}

// Save 写入游标。内存副本总是被更新；KV 写入失败时返回包装了
// models.ErrPersistenceUnavailable 的错误。
func (s *CursorStore) Save(ctx context.Context, cursor models.SubscriptionCursor) error {
	s.remember(cursor)
	if !s.persistent {
		return nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, s.key(cursor.EntityID), string(data), 0); err != nil {
		return fmt.Errorf("%w: saving cursor for %s: %v", models.ErrPersistenceUnavailable, cursor.EntityID, err)
	}
	return nil
}

func (s *CursorStore) remember(cursor models.SubscriptionCursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.mem[cursor.EntityID]; ok && prev.LastTimestamp != nil && cursor.LastTimestamp != nil &&
		cursor.LastTimestamp.Before(*prev.LastTimestamp) {
		return
	}
	s.mem[cursor.EntityID] = cursor
}

// All 返回全部游标，key 为实体ID。
func (s *CursorStore) All(ctx context.Context) (map[string]models.SubscriptionCursor, error) {
	if !s.persistent {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make(map[string]models.SubscriptionCursor, len(s.mem))
		for id, c := range s.mem {
			out[id] = c
		}
		return out, nil
	}

	keys, err := s.store.Keys(ctx, s.prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("%w: listing cursors: %v", models.ErrPersistenceUnavailable, err)
	}
	out := make(map[string]models.SubscriptionCursor, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	values, err := s.store.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("%w: reading cursors: %v", models.ErrPersistenceUnavailable, err)
	}
	for i, raw := range values {
		if raw == "" {
			continue
		}
		var cursor models.SubscriptionCursor
		if err := json.Unmarshal([]byte(raw), &cursor); err != nil {
			s.log.WithField("key", keys[i]).Warn("skipping malformed cursor")
			continue
		}
		out[strings.TrimPrefix(keys[i], s.prefix)] = cursor
	}
	return out, nil
}

// Clear 删除全部游标，返回删除数量。
func (s *CursorStore) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	n := len(s.mem)
	s.mem = make(map[string]models.SubscriptionCursor)
	s.mu.Unlock()

	if !s.persistent {
		return n, nil
	}
	keys, err := s.store.Keys(ctx, s.prefix+"*")
	if err != nil {
		return 0, fmt.Errorf("%w: listing cursors: %v", models.ErrPersistenceUnavailable, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.store.Del(ctx, keys...); err != nil {
		return 0, fmt.Errorf("%w: deleting cursors: %v", models.ErrPersistenceUnavailable, err)
	}
	s.log.WithField("count", len(keys)).Info("cleared subscription cursors")
	return len(keys), nil
}

// Stats 汇总全部游标。
func (s *CursorStore) Stats(ctx context.Context) (CursorStats, error) {
	all, err := s.All(ctx)
	if err != nil {
		return CursorStats{}, err
	}
	stats := CursorStats{TotalEntities: len(all)}
	for _, c := range all {
		stats.TotalRecords += c.TotalRecordsSeen
		if c.LastTimestamp == nil {
			continue
		}
		ts := *c.LastTimestamp
		if stats.OldestTimestamp == nil || ts.Before(*stats.OldestTimestamp) {
			stats.OldestTimestamp = &ts
		}
		if stats.NewestTimestamp == nil || ts.After(*stats.NewestTimestamp) {
			stats.NewestTimestamp = &ts
		}
	}
	return stats, nil
}
