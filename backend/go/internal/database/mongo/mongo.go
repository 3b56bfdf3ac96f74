package mongo

import (
	"SignalFlow/backend/go/internal/config"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const connectTimeout = 10 * time.Second

var (
	client  *mongo.Client
	once    sync.Once
	initErr error
)

// ErrNotConfigured 表示配置中没有 MongoDB 地址，信号只保存在内存中。
var ErrNotConfigured = errors.New("未配置 MongoDB 地址")

// GetClient 返回进程内唯一的 MongoDB 客户端。
func GetClient(cfg *config.MongoConfig) (*mongo.Client, error) {
	once.Do(func() {
		if cfg == nil || cfg.Address == "" {
			initErr = ErrNotConfigured
			return
		}
		opts := options.Client().
			ApplyURI(cfg.Address).
			SetAppName("signalflow").
			SetServerSelectionTimeout(connectTimeout)
		if cfg.Username != "" && cfg.Password != "" {
			opts.SetAuth(options.Credential{Username: cfg.Username, Password: cfg.Password})
		}

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		c, err := mongo.Connect(ctx, opts)
		if err != nil {
			initErr = fmt.Errorf("无法连接到 MongoDB: %w", err)
			return
		}
		if err = c.Ping(ctx, nil); err != nil {
			_ = c.Disconnect(context.Background())
			initErr = fmt.Errorf("无法 Ping MongoDB: %w", err)
			return
		}

		logger.New("signalflow", "mongo").WithField("database", cfg.Database).Info("成功连接到 MongoDB")
		client = c
	})

	return client, initErr
}

// signalIndexes 支撑按时间倒序列出信号以及按实体筛选。
var signalIndexes = []mongo.IndexModel{
	{Keys: bson.D{{Key: "generated_at", Value: -1}}},
	{Keys: bson.D{{Key: "entity_id", Value: 1}, {Key: "generated_at", Value: -1}}},
}

// Collection 返回信号归档集合，并确保所需索引存在。
// 建索引失败只记录警告，读写仍然可用。
func Collection(cfg *config.MongoConfig) (*mongo.Collection, error) {
	c, err := GetClient(cfg)
	if err != nil {
		return nil, err
	}
	coll := c.Database(cfg.Database).Collection(cfg.SignalCollection)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if _, err := coll.Indexes().CreateMany(ctx, signalIndexes); err != nil {
		logger.New("signalflow", "mongo").
			WithError(models.NewErrorInfo(err, "index_creation_failed")).
			WithField("collection", cfg.SignalCollection).
			Warn("创建信号索引失败")
	}
	return coll, nil
}

// Close 断开单例连接，未连接时什么也不做。
func Close(ctx context.Context) error {
	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

// HealthCheck 供 /health 使用。
func HealthCheck(ctx context.Context) error {
	if client == nil {
		return errors.New("MongoDB 客户端未初始化")
	}
	return client.Ping(ctx, nil)
}
