package kv

import (
	"SignalFlow/backend/go/internal/config"
	"SignalFlow/backend/go/internal/database/redis"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"errors"
)

// Open 返回 Redis 存储；未配置或连接失败时降级为内存存储。
// 第二个返回值表示是否为持久化存储。
func Open(cfg *config.RedisConfig, log *logger.Logger) (Store, bool) {
	client, err := redis.GetClient(cfg)
	if err == nil {
		return NewRedisStore(client), true
	}
	if errors.Is(err, redis.ErrNotConfigured) {
		log.Warn("redis not configured, using in-memory store")
	} else {
		log.WithError(models.NewErrorInfo(err, "persistence_unavailable")).
			Warn("redis unavailable, using in-memory store")
	}
	return NewMemoryStore(), false
}
