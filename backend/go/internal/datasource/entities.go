package datasource

import (
	"SignalFlow/backend/go/internal/models"
	"strings"
	"sync"
)

// EntityRegistry 保存最近一次从上游获取的实体列表。
type EntityRegistry struct {
	mu       sync.RWMutex
	entities []models.EntityInfo
}

// NewEntityRegistry 创建一个空的实体注册表。
func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{}
}

// Set 替换全部实体。
func (r *EntityRegistry) Set(entities []models.EntityInfo) {
	cp := make([]models.EntityInfo, len(entities))
	copy(cp, entities)
	r.mu.Lock()
	r.entities = cp
	r.mu.Unlock()
}

// All 返回全部实体的副本，顺序与上游一致。
func (r *EntityRegistry) All() []models.EntityInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make([]models.EntityInfo, len(r.entities))
	copy(cp, r.entities)
	return cp
}

// IDs 返回全部实体ID。
func (r *EntityRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entities))
	for _, e := range r.entities {
		ids = append(ids, e.EntityID)
	}
	return ids
}

// Len 返回实体数量。
func (r *EntityRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Get 根据ID查找实体。
func (r *EntityRegistry) Get(entityID string) (models.EntityInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entities {
		if e.EntityID == entityID {
			return e, true
		}
	}
	return models.EntityInfo{}, false
}

// FindByName 按名称或ID做不区分大小写的子串匹配，返回第一个命中的实体。
func (r *EntityRegistry) FindByName(term string) (models.EntityInfo, bool) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return models.EntityInfo{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entities {
		if strings.Contains(strings.ToLower(e.DisplayName), term) ||
			strings.Contains(strings.ToLower(e.EntityID), term) {
			return e, true
		}
	}
	return models.EntityInfo{}, false
}
