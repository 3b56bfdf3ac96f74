// Package kv 定义了游标、相似度存储与执行追踪共用的键值存储抽象。
// 提供 Redis 与进程内存两种实现，命令语义与 Redis 保持一致。
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound 表示 key 不存在或已过期。
	ErrNotFound = errors.New("kv: key not found")
	// ErrWrongType 表示对 key 执行了与其类型不符的操作。
	ErrWrongType = errors.New("kv: operation against a key holding the wrong kind of value")
)

// Store 是 Redis 命令子集的抽象。
type Store interface {
	// Get 读取字符串值，不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) (string, error)
	// Set 写入字符串值，ttl 为 0 表示永不过期。
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// MGet 批量读取，不存在的 key 对应位置为空字符串。
	MGet(ctx context.Context, keys ...string) ([]string, error)
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Keys 返回匹配 glob 模式的全部 key。
	Keys(ctx context.Context, pattern string) ([]string, error)

	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	Ping(ctx context.Context) error
	Close() error
}
