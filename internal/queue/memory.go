package queue

import (
	"context"
	"sync"
)

// MemoryConsumer 通道实现，供测试与单进程嵌入式部署。
// 处理失败的消息按最大重试次数重新入队。
type MemoryConsumer struct {
	ch         chan Delivery
	parallel   int
	maxRetries int

	mu      sync.Mutex
	retries map[string]int
	closed  bool
}

// MemoryMessage 入队用的消息；Key 为空时按消息体做重试计数
type MemoryMessage struct {
	Key  string
	Body []byte
}

func NewMemoryConsumer(buffer, parallel, maxRetries int) *MemoryConsumer {
	if buffer <= 0 {
		buffer = 128
	}
	if parallel <= 0 {
		parallel = 1
	}
	return &MemoryConsumer{
		ch:         make(chan Delivery, buffer),
		parallel:   parallel,
		maxRetries: maxRetries,
		retries:    make(map[string]int),
	}
}

// Enqueue 投递一条消息；队列已关闭时静默丢弃，缓冲满时放弃投递
func (c *MemoryConsumer) Enqueue(msg MemoryMessage) {
	c.offer(Delivery{Key: msg.Key, Body: msg.Body})
}

// offer 必须在锁内发送：Close 持锁 close(ch)，锁外发送会撞上已关闭的通道
func (c *MemoryConsumer) offer(d Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- d:
	default:
		// 缓冲已满则放弃
	}
}

func (c *MemoryConsumer) Subscribe(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < c.parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-c.ch:
					if !ok {
						return
					}
					if err := handler(ctx, d); err != nil {
						c.requeue(d)
					}
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (c *MemoryConsumer) requeue(d Delivery) {
	key := d.Key
	if key == "" {
		key = string(d.Body)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries[key]++
	if c.retries[key] > c.maxRetries || c.closed {
		return
	}
	select {
	case c.ch <- d:
	default:
		// 队列已满则放弃重投
	}
}

func (c *MemoryConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}
