package tracking

import (
	"sort"
	"sync"
)

// Registry 记录当前进程中活跃的 controller 名称。
type Registry struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewRegistry 创建一个空的注册表。
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Register 注册 controller 名称，重复注册无副作用。
func (r *Registry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[name] = struct{}{}
}

// Names 返回按字母排序的 controller 名称。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.names))
	for n := range r.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
