package kv

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

type kind int

const (
	kindString kind = iota
	kindList
	kindSet
	kindHash
)

type item struct {
	kind     kind
	str      string
	list     []string
	set      map[string]struct{}
	hash     map[string]string
	expireAt time.Time
}

// MemoryStore 是进程内的 Store 实现，Redis 不可用时作为降级方案，也用于测试。
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*item
	now   func() time.Time
}

// NewMemoryStore 创建一个空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*item), now: time.Now}
}

// SetClock 替换时间来源，用于测试过期逻辑。
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// lookup 返回未过期的条目，调用方需持有锁。
func (s *MemoryStore) lookup(key string) *item {
	it, ok := s.items[key]
	if !ok {
		return nil
	}
	if !it.expireAt.IsZero() && !s.now().Before(it.expireAt) {
		delete(s.items, key)
		return nil
	}
	return it
}

func (s *MemoryStore) typed(key string, k kind, create bool) (*item, error) {
	it := s.lookup(key)
	if it == nil {
		if !create {
			return nil, nil
		}
		it = &item{kind: k}
		switch k {
		case kindSet:
			it.set = make(map[string]struct{})
		case kindHash:
			it.hash = make(map[string]string)
		}
		s.items[key] = it
		return it, nil
	}
	if it.kind != k {
		return nil, ErrWrongType
	}
	return it, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.typed(key, kindString, false)
	if err != nil {
		return "", err
	}
	if it == nil {
		return "", ErrNotFound
	}
	return it.str, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := &item{kind: kindString, str: value}
	if ttl > 0 {
		it.expireAt = s.now().Add(ttl)
	}
	s.items[key] = it
	return nil
}

func (s *MemoryStore) MGet(_ context.Context, keys ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(keys))
	for i, key := range keys {
		if it := s.lookup(key); it != nil && it.kind == kindString {
			out[i] = it.str
		}
	}
	return out, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.items, key)
	}
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.typed(key, kindString, true)
	if err != nil {
		return 0, err
	}
	var n int64
	if it.str != "" {
		n, err = strconv.ParseInt(it.str, 10, 64)
		if err != nil {
			return 0, ErrWrongType
		}
	}
	n++
	it.str = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it := s.lookup(key); it != nil {
		it.expireAt = s.now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.items {
		if s.lookup(key) != nil && g.Match(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) LPush(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.typed(key, kindList, true)
	if err != nil {
		return err
	}
	for _, v := range values {
		it.list = append([]string{v}, it.list...)
	}
	return nil
}

func (s *MemoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.typed(key, kindList, false)
	if err != nil || it == nil {
		return err
	}
	lo, hi, ok := listRange(int64(len(it.list)), start, stop)
	if !ok {
		delete(s.items, key)
		return nil
	}
	it.list = append([]string(nil), it.list[lo:hi]...)
	return nil
}

func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.typed(key, kindList, false)
	if err != nil || it == nil {
		return nil, err
	}
	lo, hi, ok := listRange(int64(len(it.list)), start, stop)
	if !ok {
		return nil, nil
	}
	return append([]string(nil), it.list[lo:hi]...), nil
}

// listRange 按 Redis 规则把含负数的闭区间换算成切片下标。
func listRange(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}

func (s *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.typed(key, kindSet, true)
	if err != nil {
		return err
	}
	for _, m := range members {
		it.set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.typed(key, kindSet, false)
	if err != nil || it == nil {
		return err
	}
	for _, m := range members {
		delete(it.set, m)
	}
	if len(it.set) == 0 {
		delete(s.items, key)
	}
	return nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.typed(key, kindSet, false)
	if err != nil || it == nil {
		return nil, err
	}
	out := make([]string, 0, len(it.set))
	for m := range it.set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) SCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.typed(key, kindSet, false)
	if err != nil || it == nil {
		return 0, err
	}
	return int64(len(it.set)), nil
}

func (s *MemoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.typed(key, kindHash, true)
	if err != nil {
		return err
	}
	for k, v := range fields {
		it.hash[k] = v
	}
	return nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.typed(key, kindHash, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if it != nil {
		for k, v := range it.hash {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
