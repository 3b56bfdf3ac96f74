package redis

import (
	"SignalFlow/backend/go/internal/config"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// 游标、相似度条目与追踪数据都是小 key，单次操作应很快返回。
const (
	dialTimeout  = 5 * time.Second
	opTimeout    = 3 * time.Second
	poolSize     = 20
	minIdleConns = 2
)

var (
	client  *redis.Client
	once    sync.Once
	initErr error
)

// ErrNotConfigured 表示配置中没有 Redis 地址，调用方据此降级为内存存储。
var ErrNotConfigured = errors.New("未配置 Redis 地址")

func newOptions(cfg *config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
		PoolSize:     poolSize,
		MinIdleConns: minIdleConns,
	}
}

// GetClient 返回进程内唯一的 Redis 客户端，首次调用时建立连接并 Ping 校验。
// 连接失败的结果同样被缓存，进程生命周期内不会重试。
func GetClient(cfg *config.RedisConfig) (*redis.Client, error) {
	once.Do(func() {
		if cfg == nil || cfg.Address == "" {
			initErr = ErrNotConfigured
			return
		}
		rdb := redis.NewClient(newOptions(cfg))

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			initErr = fmt.Errorf("无法连接到 Redis %s: %w", cfg.Address, err)
			return
		}

		logger.New("signalflow", "redis").
			WithPayload(map[string]interface{}{"address": cfg.Address, "db": cfg.DB, "pool_size": poolSize}).
			Info("成功连接到 Redis")
		client = rdb
	})

	return client, initErr
}

// Close 关闭单例连接，未连接时什么也不做。
func Close() error {
	if client == nil {
		return nil
	}
	return client.Close()
}

// HealthCheck 供 /health 使用。
func HealthCheck(ctx context.Context) error {
	if client == nil {
		return errors.New("Redis 客户端未初始化")
	}
	return client.Ping(ctx).Err()
}
