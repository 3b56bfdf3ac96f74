package util

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// CacheConfig 配置淘汰条件，Capacity 与 MaxWeight 至少设置一个。
type CacheConfig[K comparable, V any] struct {
	Capacity  int           // 最大条目数，0 表示不限
	MaxWeight int           // 所有条目的权重上限，0 表示不限
	TTL       time.Duration // 条目自最近一次写入起的存活时间，0 表示不过期
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	weight    int
	expiresAt time.Time
}

// CacheStats 是缓存的命中统计。
type CacheStats struct {
	Len    int    `json:"len"`
	Weight int    `json:"weight"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// LRUCache 是并发安全的泛型 LRU，过期条目在访问时被动清除。
type LRUCache[K comparable, V any] struct {
	config CacheConfig[K, V]
	order  *list.List // 头部为最近使用
	items  map[K]*list.Element
	weight int
	hits   uint64
	misses uint64
	now    func() time.Time
	mu     sync.Mutex
}

// ErrNoLimit 表示配置既没有容量也没有权重上限。
var ErrNoLimit = errors.New("必须设置 Capacity 或 MaxWeight 中的至少一个")

// NewWithConfig 创建缓存。
func NewWithConfig[K comparable, V any](config CacheConfig[K, V]) (*LRUCache[K, V], error) {
	if config.Capacity <= 0 && config.MaxWeight <= 0 {
		return nil, ErrNoLimit
	}
	return &LRUCache[K, V]{
		config: config,
		order:  list.New(),
		items:  make(map[K]*list.Element),
		now:    time.Now,
	}, nil
}

// lookup 返回未过期的条目并将其移到头部。调用方持有锁。
func (c *LRUCache[K, V]) lookup(key K) (*entry[K, V], bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry[K, V])
	if c.config.TTL > 0 && c.now().After(e.expiresAt) {
		c.unlink(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return e, true
}

// store 写入或覆盖条目后按限制淘汰尾部。调用方持有锁。
func (c *LRUCache[K, V]) store(key K, value V, weight int) {
	var expiresAt time.Time
	if c.config.TTL > 0 {
		expiresAt = c.now().Add(c.config.TTL)
	}
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		c.weight += weight - e.weight
		e.value, e.weight, e.expiresAt = value, weight, expiresAt
		c.order.MoveToFront(el)
	} else {
		c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, weight: weight, expiresAt: expiresAt})
		c.weight += weight
	}
	for c.overLimit() {
		c.unlink(c.order.Back())
	}
}

func (c *LRUCache[K, V]) overLimit() bool {
	if c.order.Len() == 0 {
		return false
	}
	return (c.config.Capacity > 0 && c.order.Len() > c.config.Capacity) ||
		(c.config.MaxWeight > 0 && c.weight > c.config.MaxWeight)
}

func (c *LRUCache[K, V]) unlink(el *list.Element) {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
	c.weight -= e.weight
}

// Get 返回 key 对应的值并记录命中统计。
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lookup(key); ok {
		c.hits++
		return e.value, true
	}
	c.misses++
	var zero V
	return zero, false
}

// Put 写入键值对。只按条目数淘汰时 weight 传 1。
func (c *LRUCache[K, V]) Put(key K, value V, weight int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value, weight)
}

// GetOrAdd 在 key 不存在时调用 create 生成值并写入，整个过程持有锁。
// loaded 为 true 表示返回的是已有值。
func (c *LRUCache[K, V]) GetOrAdd(key K, create func() (V, int)) (value V, loaded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lookup(key); ok {
		c.hits++
		return e.value, true
	}
	c.misses++
	value, weight := create()
	c.store(key, value, weight)
	return value, false
}

// Len 返回当前条目数，可能包含尚未被访问清除的过期条目。
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Weight 返回当前总权重。
func (c *LRUCache[K, V]) Weight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weight
}

// Remove 删除指定的键，返回键是否存在。
func (c *LRUCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if ok {
		c.unlink(el)
	}
	return ok
}

// Purge 清空缓存，命中统计保留。
func (c *LRUCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[K]*list.Element)
	c.weight = 0
}

// Stats 返回条目数、权重与命中统计。
func (c *LRUCache[K, V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Len: c.order.Len(), Weight: c.weight, Hits: c.hits, Misses: c.misses}
}
