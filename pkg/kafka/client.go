// Package kafka 提供了通过 Kafka 投递和消费摄取任务的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"knowledgelink-go/pkg/log"
	"knowledgelink-go/pkg/tasks"
)

const attemptsTTL = 24 * time.Hour

var errAttemptsExhausted = errors.New("ingest attempts exhausted")

// Config 是生产者和消费者共用的 Kafka 配置。
type Config struct {
	Brokers     []string
	Topic       string
	GroupID     string
	Consumers   int
	MaxAttempts int

	// RetryBackoff 是消费者内重试的初始等待时间，0 时使用 1s
	RetryBackoff time.Duration
}

// Producer 把摄取任务写入 Kafka，实现 tasks.Queue。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 创建 Kafka 生产者。
func NewProducer(cfg Config) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Enqueue 以文档 id 为 key 发送任务，同一文档的任务落在同一分区内保持顺序。
func (p *Producer) Enqueue(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocumentID),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// attemptCounter 记录每个文档已经尝试的次数。保存在 Redis 中时，进程在重试途中退出后，
// 重新投递的消息会接着计数，不会无限重试。
type attemptCounter interface {
	Incr(ctx context.Context, documentID string) (int64, error)
	Reset(ctx context.Context, documentID string)
}

type redisCounter struct {
	rdb *redis.Client
}

func attemptsKey(documentID string) string {
	return fmt.Sprintf("kafka:attempts:%s", documentID)
}

func (c redisCounter) Incr(ctx context.Context, documentID string) (int64, error) {
	key := attemptsKey(documentID)
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = c.rdb.Expire(ctx, key, attemptsTTL).Err()
	return n, nil
}

func (c redisCounter) Reset(ctx context.Context, documentID string) {
	_ = c.rdb.Del(ctx, attemptsKey(documentID)).Err()
}

// memoryCounter 用于未配置 Redis 的单实例部署。
type memoryCounter struct {
	mu sync.Mutex
	m  map[string]int64
}

func (c *memoryCounter) Incr(_ context.Context, documentID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[documentID]++
	return c.m[documentID], nil
}

func (c *memoryCounter) Reset(_ context.Context, documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, documentID)
}

func newCounter(rdb *redis.Client) attemptCounter {
	if rdb == nil {
		return &memoryCounter{m: make(map[string]int64)}
	}
	return redisCounter{rdb: rdb}
}

// messageReader 是 *kafka.Reader 中消费者用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 从 Kafka 读取摄取任务并交给 Handler 处理。
type Consumer struct {
	cfg     Config
	handler tasks.Handler
	counter attemptCounter
	newRead func() messageReader
	wg      sync.WaitGroup
}

// NewConsumer 创建消费者组，rdb 为 nil 时失败计数保存在进程内。
func NewConsumer(cfg Config, handler tasks.Handler, rdb *redis.Client) *Consumer {
	if cfg.Consumers <= 0 {
		cfg.Consumers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	c := &Consumer{cfg: cfg, handler: handler, counter: newCounter(rdb)}
	c.newRead = func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,    // 任务消息很小，不等待攒批
			MaxBytes: 10e6, // 10MB
		})
	}
	return c
}

// Start 启动 cfg.Consumers 个 reader，ctx 取消后全部退出。
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.cfg.Consumers; i++ {
		c.wg.Add(1)
		go func(id int) {
			defer c.wg.Done()
			c.run(ctx, id, c.newRead())
		}(i)
	}
	log.Infof("Kafka 消费者已启动 %d 个，正在监听主题 '%s'", c.cfg.Consumers, c.cfg.Topic)
}

// Wait 等待所有 reader 退出。
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context, id int, r messageReader) {
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("[Consumer-%d] 关闭 Kafka 消费者失败: %v", id, err)
		}
	}()
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			return
		}
		c.handle(ctx, id, r, m)
	}
}

// handle 处理一条消息。kafka-go 的 reader 不会重新投递未提交的消息，所以失败的任务在这里按指数退避重试，
// 成功或达到 MaxAttempts 后提交 offset。只有 ctx 取消（停机）时不提交，重启后消息会被重新投递。
func (c *Consumer) handle(ctx context.Context, id int, r messageReader, m kafka.Message) {
	log.Infof("[Consumer-%d] 收到 Kafka 消息: offset %d", id, m.Offset)

	var task tasks.IngestTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, r, m)
		return
	}

	attempt := 0
	op := func() error {
		attempt++
		n, err := c.counter.Incr(ctx, task.DocumentID)
		if err != nil {
			log.Warnf("[Consumer-%d] 更新尝试次数失败，使用本地计数: %v", id, err)
			n = int64(attempt)
		}
		if n > int64(c.cfg.MaxAttempts) {
			return backoff.Permanent(errAttemptsExhausted)
		}
		if err := c.handler.Process(ctx, task); err != nil {
			log.Warnf("[Consumer-%d] 摄取任务失败 (第 %d/%d 次): document=%s, err=%v", id, n, c.cfg.MaxAttempts, task.DocumentID, err)
			return err
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)

	err := backoff.Retry(op, policy)
	if err != nil && ctx.Err() != nil {
		log.Warnf("[Consumer-%d] 停机中断了摄取任务，不提交 offset: document=%s", id, task.DocumentID)
		return
	}
	if err != nil {
		log.Errorf("[Consumer-%d] 摄取任务多次失败(%d 次)，提交 offset 终止重试: document=%s, err=%v", id, c.cfg.MaxAttempts, task.DocumentID, err)
	} else {
		log.Infof("[Consumer-%d] 摄取任务处理成功: document=%s", id, task.DocumentID)
	}
	c.counter.Reset(ctx, task.DocumentID)
	c.commit(ctx, r, m)
}

func (c *Consumer) commit(ctx context.Context, r messageReader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
