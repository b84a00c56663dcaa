// Package queue 定义事件队列的消费端口。编排器只依赖该端口，
// 不感知具体 broker，测试与嵌入式运行用内存实现。
package queue

import "context"

// Delivery 一条待处理的队列消息。Key 用于重试计数去重，可为空
type Delivery struct {
	Key  string
	Body []byte
	// Partition/Offset 仅 Kafka 实现填充，便于日志定位
	Partition int
	Offset    int64
}

// Handler 处理一条消息。返回 nil 确认（ack），返回非 nil 则不确认，
// 由队列层面负责重投；至多一次/至少一次语义是队列的事，不在此约定。
type Handler func(ctx context.Context, d Delivery) error

// Consumer 队列消费端口
type Consumer interface {
	// Subscribe 阻塞消费直到 ctx 取消。实现自行决定内部并行度。
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}
