package kafka

import (
	"SignalFlow/backend/go/internal/config"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const dialTimeout = 10 * time.Second

// KafkaClient 持有共享的事件 Writer 与一条管理连接。
// Reader 按消费组单独创建，见 NewReader。
type KafkaClient struct {
	Writer *kafka.Writer
	Conn   *kafka.Conn
	Config *config.KafkaConfig
}

var (
	client  *KafkaClient
	once    sync.Once
	initErr error
)

// ErrNotConfigured 表示配置中没有 Kafka broker，事件只在进程内分发。
var ErrNotConfigured = errors.New("未配置 Kafka brokers")

// GetClient 返回进程内唯一的 KafkaClient。首次调用时连接 broker 并创建缺失的事件主题。
func GetClient(cfg *config.KafkaConfig) (*KafkaClient, error) {
	once.Do(func() {
		if cfg == nil || len(cfg.Brokers) == 0 {
			initErr = ErrNotConfigured
			return
		}
		topics := cfg.Topics.All()
		if len(topics) == 0 {
			initErr = errors.New("未配置 Kafka topics")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers[0])
		if err != nil {
			initErr = fmt.Errorf("kafka 初始化连接失败: %w", err)
			return
		}

		created, err := ensureTopics(ctx, conn, topics)
		if err != nil {
			_ = conn.Close()
			initErr = err
			return
		}

		writer := &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           10 * time.Millisecond,
			BatchSize:              100,
			AllowAutoTopicCreation: false,
		}

		logger.New("signalflow", "kafka").
			WithPayload(map[string]interface{}{"brokers": cfg.Brokers, "topics": topics, "created": created}).
			Info("kafka client initialized")
		client = &KafkaClient{Writer: writer, Conn: conn, Config: cfg}
	})

	return client, initErr
}

// ensureTopics 在控制器节点上创建缺失的主题，返回新建的主题名。
func ensureTopics(ctx context.Context, conn *kafka.Conn, topics []string) ([]string, error) {
	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("无法读取 Kafka 分区信息: %w", err)
	}
	existing := make(map[string]struct{}, len(partitions))
	for _, p := range partitions {
		existing[p.Topic] = struct{}{}
	}

	var missing []kafka.TopicConfig
	var names []string
	for _, topic := range topics {
		if _, ok := existing[topic]; ok {
			continue
		}
		missing = append(missing, kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
		names = append(names, topic)
	}
	if len(missing) == 0 {
		return nil, nil
	}

	controller, err := conn.Controller()
	if err != nil {
		return nil, fmt.Errorf("无法获取 Kafka 控制器: %w", err)
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrlConn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("连接 Kafka 控制器 %s 失败: %w", addr, err)
	}
	defer ctrlConn.Close()

	if err := ctrlConn.CreateTopics(missing...); err != nil {
		return nil, fmt.Errorf("自动创建 Kafka 主题失败: %w", err)
	}
	return names, nil
}

// NewReader 为指定主题创建一个属于配置消费组的 Reader。
// 偏移量由消费者在处理后显式提交。
func (c *KafkaClient) NewReader(topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Config.Brokers,
		GroupID:        c.Config.ConsumerGroup,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxAttempts:    10,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
		Dialer:         &kafka.Dialer{Timeout: dialTimeout},
	})
}

// Close 关闭 Writer 与管理连接，nil 客户端安全。
func (c *KafkaClient) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Writer != nil {
		if err := c.Writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭 Kafka writer 失败: %w", err))
		}
	}
	if c.Conn != nil {
		if err := c.Conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭 Kafka 管理连接失败: %w", err))
		}
	}
	return errors.Join(errs...)
}

// HealthCheck 通过查询控制器确认管理连接可用。
func (c *KafkaClient) HealthCheck(_ context.Context) error {
	if c == nil || c.Conn == nil {
		return errors.New("kafka 客户端未初始化")
	}
	_, err := c.Conn.Controller()
	return err
}
