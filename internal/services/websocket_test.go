package services

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestWebSocketHub_ClientManagement(t *testing.T) {
	hub := NewWebSocketHub(logrus.New())
	go hub.Run()

	client1 := &WebSocketClient{
		WorkspaceID: "ws-1",
		Send:        make(chan WebSocketMessage, 64),
		hub:         hub,
	}
	client2 := &WebSocketClient{
		WorkspaceID: "ws-2",
		Send:        make(chan WebSocketMessage, 64),
		hub:         hub,
	}

	hub.register <- client1
	hub.register <- client2
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, hub.ClientCount())

	hub.unregister <- client1
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())

	// 重复注销是无操作
	hub.unregister <- client1
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestWebSocketHub_SendToWorkspaceIsScoped(t *testing.T) {
	hub := NewWebSocketHub(logrus.New())
	go hub.Run()

	target := &WebSocketClient{WorkspaceID: "ws-1", Send: make(chan WebSocketMessage, 64), hub: hub}
	other := &WebSocketClient{WorkspaceID: "ws-2", Send: make(chan WebSocketMessage, 64), hub: hub}
	hub.register <- target
	hub.register <- other
	time.Sleep(50 * time.Millisecond)

	hub.NotifyQueueChanged(context.Background(), "ws-1", "dept-1")

	select {
	case msg := <-target.Send:
		assert.Equal(t, "queue_changed", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("target workspace did not receive the message")
	}
	select {
	case msg := <-other.Send:
		t.Fatalf("other workspace received %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebSocketHub_VisitorMessageFrame(t *testing.T) {
	hub := NewWebSocketHub(logrus.New())
	go hub.Run()

	client := &WebSocketClient{WorkspaceID: "ws-1", Send: make(chan WebSocketMessage, 64), hub: hub}
	hub.register <- client
	time.Sleep(50 * time.Millisecond)

	sent := time.Now()
	hub.NotifyVisitorMessage(context.Background(), "ws-1", "room-1", "msg-1", "您好！", "客服助手", sent)

	select {
	case msg := <-client.Send:
		assert.Equal(t, "visitor_message", msg.Type)
		data, ok := msg.Data.(gin.H)
		if !ok {
			t.Fatalf("data type = %T", msg.Data)
		}
		assert.Equal(t, "room-1", data["room_id"])
		assert.Equal(t, "您好！", data["content"])
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestWebSocketHub_FullBufferDropsMessage(t *testing.T) {
	hub := NewWebSocketHub(logrus.New())
	go hub.Run()

	// 容量 1 的发送缓冲：第二条消息应被丢弃而不是阻塞广播
	client := &WebSocketClient{WorkspaceID: "ws-1", Send: make(chan WebSocketMessage, 1), hub: hub}
	hub.register <- client
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		hub.SendToWorkspace("ws-1", WebSocketMessage{Type: "first"})
		hub.SendToWorkspace("ws-1", WebSocketMessage{Type: "second"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
	if got := len(client.Send); got != 1 {
		t.Errorf("buffered frames = %d, want 1", got)
	}
}
