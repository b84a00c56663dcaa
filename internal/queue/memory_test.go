package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryConsumer_DeliverAndAck(t *testing.T) {
	c := NewMemoryConsumer(8, 1, 0)

	var got [][]byte
	var mu sync.Mutex
	done := make(chan struct{})
	handler := func(ctx context.Context, d Delivery) error {
		mu.Lock()
		got = append(got, d.Body)
		if len(got) == 2 {
			close(done)
		}
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Subscribe(ctx, handler) }()

	c.Enqueue(MemoryMessage{Key: "a", Body: []byte(`{"eventType":"CHAT_STARTED"}`)})
	c.Enqueue(MemoryMessage{Key: "b", Body: []byte(`{"eventType":"CHAT_ENDED"}`)})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("delivered %d messages, want 2", len(got))
	}
}

func TestMemoryConsumer_RetryUntilExhausted(t *testing.T) {
	c := NewMemoryConsumer(8, 1, 2)

	var attempts int32
	failed := errors.New("downstream unavailable")
	handler := func(ctx context.Context, d Delivery) error {
		atomic.AddInt32(&attempts, 1)
		return failed
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Subscribe(ctx, handler) }()

	c.Enqueue(MemoryMessage{Key: "k", Body: []byte("poison")})

	// 1 次首投 + 2 次重试后放弃
	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&attempts) < 3 {
		select {
		case <-deadline:
			t.Fatalf("attempts = %d, want 3", atomic.LoadInt32(&attempts))
		case <-time.After(10 * time.Millisecond):
		}
	}
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, retries must stop after the limit", got)
	}
}

func TestMemoryConsumer_SubscribeStopsOnCancel(t *testing.T) {
	c := NewMemoryConsumer(1, 2, 0)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Subscribe(ctx, func(ctx context.Context, d Delivery) error { return nil })
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Subscribe returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not stop on cancel")
	}
}

func TestMemoryConsumer_RetriesKeyedByMessageKey(t *testing.T) {
	c := NewMemoryConsumer(8, 1, 1)

	var attempts int32
	handler := func(ctx context.Context, d Delivery) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("downstream unavailable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Subscribe(ctx, handler) }()

	// 同 Key 不同消息体共享重试预算：x 失败重投一次，y 失败时预算已耗尽，
	// x 的重投失败后也不再投。按消息体计数会多出一次投递。
	c.Enqueue(MemoryMessage{Key: "conv-1", Body: []byte("x")})
	c.Enqueue(MemoryMessage{Key: "conv-1", Body: []byte("y")})

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&attempts) < 3 {
		select {
		case <-deadline:
			t.Fatalf("attempts = %d, want 3", atomic.LoadInt32(&attempts))
		case <-time.After(10 * time.Millisecond):
		}
	}
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, retry budget must be shared per key", got)
	}
}

func TestMemoryConsumer_ConcurrentEnqueueAndClose(t *testing.T) {
	// Enqueue 与 Close 并发不得 panic（send on closed channel）
	for i := 0; i < 50; i++ {
		c := NewMemoryConsumer(4, 1, 0)
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					c.Enqueue(MemoryMessage{Key: "k", Body: []byte("x")})
				}
			}()
		}
		if err := c.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		wg.Wait()
	}
}

func TestMemoryConsumer_CloseDropsEnqueues(t *testing.T) {
	c := NewMemoryConsumer(8, 1, 0)
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// 关闭后入队静默丢弃，不 panic
	c.Enqueue(MemoryMessage{Key: "late", Body: []byte("x")})
	// 重复关闭幂等
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
