package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")，为空表示不使用 Redis
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// MongoConfig 定义了 MongoDB 数据库的连接配置。
type MongoConfig struct {
	Address          string `yaml:"address"`          // MongoDB 连接URI，为空表示不归档信号
	Username         string `yaml:"username"`         // 用户名
	Password         string `yaml:"password"`         // 密码
	Database         string `yaml:"database"`         // 数据库名称
	SignalCollection string `yaml:"signalCollection"` // 信号归档集合名称
}

// KafkaTopics 定义了三类下游事件各自的主题。
type KafkaTopics struct {
	Classified   string `yaml:"classified"`
	Deduplicated string `yaml:"deduplicated"`
	Signal       string `yaml:"signal"`
}

// All 返回全部非空主题。
func (t KafkaTopics) All() []string {
	var topics []string
	for _, topic := range []string{t.Classified, t.Deduplicated, t.Signal} {
		if topic != "" {
			topics = append(topics, topic)
		}
	}
	return topics
}

// KafkaConfig 定义了 Kafka 消息队列的连接配置。
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`       // Kafka Broker 地址列表，为空表示只在进程内分发事件
	Topics        KafkaTopics `yaml:"topics"`        // 事件主题
	ConsumerGroup string      `yaml:"consumerGroup"` // 归档消费者的 group id
}

// DatabaseConfigs 包含所有外部存储的配置。
type DatabaseConfigs struct {
	Redis   RedisConfig `yaml:"redis"`   // Redis 配置，用于游标、相似度存储与执行追踪
	MongoDB MongoConfig `yaml:"mongodb"` // MongoDB 配置，用于信号归档
	Kafka   KafkaConfig `yaml:"kafka"`   // Kafka 配置，用于下游事件
}

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// ServerConfig 定义了运维 API 的监听配置。
type ServerConfig struct {
	Address string `yaml:"address"` // 监听地址，例如 ":8101"
	GinMode string `yaml:"ginMode"` // gin 运行模式: debug/release/test
}

// ModelProfile 是某个使用场景下的模型配置。
type ModelProfile struct {
	Model       string  `yaml:"model"`       // 模型名称
	Temperature float32 `yaml:"temperature"` // 采样温度
}

// LLMConfig 包含了判定能力使用的 LLM 配置。
type LLMConfig struct {
	Provider string       `yaml:"provider"` // LLM 提供商: "openai", "ollama", "gemini"
	APIKey   string       `yaml:"apiKey"`   // API 密钥
	BaseURL  string       `yaml:"baseURL"`  // 兼容 OpenAI 协议的服务地址或 Ollama 地址
	Judge    ModelProfile `yaml:"judge"`    // 分类使用的模型
	Analysis ModelProfile `yaml:"analysis"` // 关系判定与信号生成使用的模型
	Timeout  string       `yaml:"timeout"`  // 单次调用超时，例如 "60s"
}

// EmbeddingConfig 包含了 Embedding 提供商的配置。
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`   // "openai", "ollama", "gemini"
	Model      string `yaml:"model"`      // 模型名称
	APIKey     string `yaml:"apiKey"`     // API 密钥
	BaseURL    string `yaml:"baseURL"`    // 服务地址
	Dimensions int    `yaml:"dimensions"` // 向量维度，同一部署内保持不变
	CacheSize  int    `yaml:"cacheSize"`  // 嵌入向量 LRU 缓存容量，0 表示不缓存
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RateLimiterConfig 定义了限流器的配置。
type RateLimiterConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Algorithm      string               `yaml:"algorithm"`  // 支持: "fixedWindow", "slidingCounter", "tokenBucket"
	PerClient      bool                 `yaml:"perClient"`  // 为 true 时每个客户端地址单独计数
	MaxClients     int                  `yaml:"maxClients"` // 按客户端计数时最多跟踪的地址数
	FixedWindow    FixedWindowConfig    `yaml:"fixedWindow"`
	SlidingCounter SlidingCounterConfig `yaml:"slidingCounter"`
	TokenBucket    TokenBucketConfig    `yaml:"tokenBucket"`
}

// FixedWindowConfig 定义了固定窗口计数器算法的配置。
type FixedWindowConfig struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"` // 例如: "1m", "30s"
}

// SlidingCounterConfig 定义了滑动窗口计数器算法的配置。
type SlidingCounterConfig struct {
	Limit      int    `yaml:"limit"`
	Window     string `yaml:"window"`
	NumBuckets int    `yaml:"numBuckets"`
}

// TokenBucketConfig 定义了令牌桶算法的配置。
type TokenBucketConfig struct {
	Rate     float64 `yaml:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity"`
}

// CircuitBreakerConfig 定义了熔断器的配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// DataSourceConfig 定义了上游数据源与订阅行为。
type DataSourceConfig struct {
	BaseURL                string               `yaml:"baseURL"`                // 上游服务地址
	APIKey                 string               `yaml:"apiKey"`                 // 通过 X-API-Key 发送
	RequestTimeout         string               `yaml:"requestTimeout"`         // 单次请求超时
	SubscriptionInterval   string               `yaml:"subscriptionInterval"`   // 基础轮询间隔
	IntervalJitter         string               `yaml:"intervalJitter"`         // 轮询间隔的随机偏移上限
	SubscriptionStartDelay string               `yaml:"subscriptionStartDelay"` // 相邻实体启动间隔
	Limit                  int                  `yaml:"limit"`                  // 单次拉取条数
	DisableTimestampCache  bool                 `yaml:"disableTimestampCache"`  // 为 true 时游标只保存在内存中
	KeyPrefix              string               `yaml:"keyPrefix"`              // 游标在 KV 中的 key 前缀
	Subscriptions          []string             `yaml:"subscriptions"`          // 启用的实体ID，为空表示订阅全部
	RateLimiter            TokenBucketConfig    `yaml:"rateLimiter"`            // 对上游请求的节流
	CircuitBreaker         CircuitBreakerConfig `yaml:"circuitBreaker"`         // 对上游请求的熔断
}

// StageConfig 是单个批处理阶段的调度配置。
type StageConfig struct {
	Interval string `yaml:"interval"` // 批处理周期
	MaxBatch int    `yaml:"maxBatch"` // 队列达到该长度时提前触发，0 表示不限制
}

// DedupConfig 是去重引擎的参数。
type DedupConfig struct {
	Partition         string  `yaml:"partition"`         // 相似度存储分区
	TopK              int     `yaml:"topK"`              // 候选数量
	Threshold         float64 `yaml:"threshold"`         // 相似度下限
	MaxProcessedChars int     `yaml:"maxProcessedChars"` // 增量内容的长度上限（字符）
}

// PipelineConfig 包含流水线各阶段的配置。
type PipelineConfig struct {
	Classifier StageConfig `yaml:"classifier"`
	Dedup      StageConfig `yaml:"dedup"`
	Signal     StageConfig `yaml:"signal"`
	Dedupe     DedupConfig `yaml:"deduplication"`
}

// TrackingConfig 定义了执行追踪的配置。
type TrackingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	TraceTTL     string `yaml:"traceTTL"`     // 批次数据保留时长
	HistoryLimit int    `yaml:"historyLimit"` // 每个 controller 保留的 flow 历史条数
	KeyPrefix    string `yaml:"keyPrefix"`    // 追踪数据 key 前缀，默认为空
}

// SimilarityConfig 定义了相似度存储的配置。
type SimilarityConfig struct {
	KeyPrefix string `yaml:"keyPrefix"` // 默认 "vector"
}

// HousekeepingConfig 定义了定时巡检任务。
type HousekeepingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron 表达式，例如 "@every 5m"
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App          AppInfo            `yaml:"app"`
	Logger       LoggerConfig       `yaml:"logger"`
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Databases    DatabaseConfigs    `yaml:"databases"`
	Middleware   MiddlewareConfig   `yaml:"middleware"`
	DataSource   DataSourceConfig   `yaml:"datasource"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Tracking     TrackingConfig     `yaml:"tracking"`
	Similarity   SimilarityConfig   `yaml:"similarity"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件。
// 解析后依次应用环境变量覆盖与默认值。
func LoadConfig(path string) (*AppConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	cfg.applyEnvOverrides()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults 为未设置的字段填充默认值。
func (c *AppConfig) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "signalflow"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8101"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Timeout == "" {
		c.LLM.Timeout = "60s"
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = c.LLM.Provider
	}
	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = 1536
	}

	ds := &c.DataSource
	if ds.RequestTimeout == "" {
		ds.RequestTimeout = "30s"
	}
	if ds.SubscriptionInterval == "" {
		ds.SubscriptionInterval = "3m"
	}
	if ds.IntervalJitter == "" {
		ds.IntervalJitter = "2m"
	}
	if ds.SubscriptionStartDelay == "" {
		ds.SubscriptionStartDelay = "5s"
	}
	if ds.Limit == 0 {
		ds.Limit = 40
	}
	if ds.KeyPrefix == "" {
		ds.KeyPrefix = "datasource:subscription:"
	}

	p := &c.Pipeline
	if p.Classifier.Interval == "" {
		p.Classifier.Interval = "5s"
	}
	if p.Dedup.Interval == "" {
		p.Dedup.Interval = "8s"
	}
	if p.Signal.Interval == "" {
		p.Signal.Interval = "10s"
	}
	if p.Dedupe.Partition == "" {
		p.Dedupe.Partition = "relevant-content"
	}
	if p.Dedupe.TopK == 0 {
		p.Dedupe.TopK = 3
	}
	if p.Dedupe.Threshold == 0 {
		p.Dedupe.Threshold = 0.6
	}
	if p.Dedupe.MaxProcessedChars == 0 {
		p.Dedupe.MaxProcessedChars = 8000
	}

	if c.Tracking.TraceTTL == "" {
		c.Tracking.TraceTTL = "1h"
	}
	if c.Tracking.HistoryLimit == 0 {
		c.Tracking.HistoryLimit = 100
	}
	if c.Similarity.KeyPrefix == "" {
		c.Similarity.KeyPrefix = "vector"
	}
	if c.Housekeeping.Schedule == "" {
		c.Housekeeping.Schedule = "@every 5m"
	}
	if c.Databases.MongoDB.SignalCollection == "" {
		c.Databases.MongoDB.SignalCollection = "signals"
	}
	if c.Databases.Kafka.ConsumerGroup == "" {
		c.Databases.Kafka.ConsumerGroup = "signal-archiver"
	}
}

// Validate 检查所有时长字段是否可以解析。
func (c *AppConfig) Validate() error {
	durations := map[string]string{
		"llm.timeout":                       c.LLM.Timeout,
		"datasource.requestTimeout":         c.DataSource.RequestTimeout,
		"datasource.subscriptionInterval":   c.DataSource.SubscriptionInterval,
		"datasource.intervalJitter":         c.DataSource.IntervalJitter,
		"datasource.subscriptionStartDelay": c.DataSource.SubscriptionStartDelay,
		"pipeline.classifier.interval":      c.Pipeline.Classifier.Interval,
		"pipeline.dedup.interval":           c.Pipeline.Dedup.Interval,
		"pipeline.signal.interval":          c.Pipeline.Signal.Interval,
		"tracking.traceTTL":                 c.Tracking.TraceTTL,
	}
	for field, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("配置项 %s 不是合法的时长 '%s': %w", field, value, err)
		}
	}
	if c.Pipeline.Dedupe.Threshold < 0 || c.Pipeline.Dedupe.Threshold > 1 {
		return fmt.Errorf("配置项 pipeline.deduplication.threshold 必须位于 [0,1]，当前为 %v", c.Pipeline.Dedupe.Threshold)
	}
	return nil
}

// Duration 解析已校验过的时长字符串，解析失败时返回 fallback。
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// applyEnvOverrides 使用 SIGNALFLOW_* 环境变量覆盖敏感信息与地址。
func (c *AppConfig) applyEnvOverrides() {
	setString := func(env string, target *string) {
		if v, ok := os.LookupEnv(env); ok {
			*target = v
		}
	}
	setString("SIGNALFLOW_LOG_LEVEL", &c.Logger.Level)
	setString("SIGNALFLOW_SERVER_ADDRESS", &c.Server.Address)
	setString("SIGNALFLOW_LLM_API_KEY", &c.LLM.APIKey)
	setString("SIGNALFLOW_LLM_BASE_URL", &c.LLM.BaseURL)
	setString("SIGNALFLOW_EMBEDDING_API_KEY", &c.Embedding.APIKey)
	setString("SIGNALFLOW_DATASOURCE_BASE_URL", &c.DataSource.BaseURL)
	setString("SIGNALFLOW_DATASOURCE_API_KEY", &c.DataSource.APIKey)
	setString("SIGNALFLOW_REDIS_ADDRESS", &c.Databases.Redis.Address)
	setString("SIGNALFLOW_REDIS_PASSWORD", &c.Databases.Redis.Password)
	setString("SIGNALFLOW_MONGO_ADDRESS", &c.Databases.MongoDB.Address)

	if v, ok := os.LookupEnv("SIGNALFLOW_KAFKA_BROKERS"); ok {
		c.Databases.Kafka.Brokers = splitList(v)
	}
	if v, ok := os.LookupEnv("SIGNALFLOW_DISABLE_TIMESTAMP_CACHE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DataSource.DisableTimestampCache = b
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
