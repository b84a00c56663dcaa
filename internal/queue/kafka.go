package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaConfig Kafka 消费配置
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	Parallel int
}

// KafkaConsumer 基于 consumer group 的 Kafka 实现。
// ack = 提交 offset；处理失败不提交，重启或 rebalance 后重投。
type KafkaConsumer struct {
	reader   *kafka.Reader
	parallel int
	logger   *logrus.Logger
}

func NewKafkaConsumer(cfg KafkaConfig, logger *logrus.Logger) *KafkaConsumer {
	if logger == nil {
		logger = logrus.New()
	}
	parallel := cfg.Parallel
	if parallel <= 0 {
		parallel = 1
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
	})
	return &KafkaConsumer{reader: reader, parallel: parallel, logger: logger}
}

// Subscribe 启动 parallel 个消费循环，阻塞到 ctx 取消
func (c *KafkaConsumer) Subscribe(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < c.parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.consume(ctx, handler)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (c *KafkaConsumer) consume(ctx context.Context, handler Handler) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Warnf("kafka fetch failed: %v", err)
			continue
		}

		d := Delivery{Key: string(msg.Key), Body: msg.Value, Partition: msg.Partition, Offset: msg.Offset}
		if err := handler(ctx, d); err != nil {
			// 不提交 offset，留给队列重投
			c.logger.Warnf("event handler failed, leaving message uncommitted (partition=%d offset=%d): %v",
				msg.Partition, msg.Offset, err)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Warnf("kafka commit failed (partition=%d offset=%d): %v", msg.Partition, msg.Offset, err)
		}
	}
}

func (c *KafkaConsumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("close kafka reader: %w", err)
	}
	return nil
}
