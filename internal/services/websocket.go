package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketMessage 推送给仪表盘连接的消息帧
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// WebSocketClient 一条仪表盘连接
type WebSocketClient struct {
	Conn        *websocket.Conn
	WorkspaceID string
	Send        chan WebSocketMessage
	hub         *WebSocketHub
}

// WebSocketHub 仪表盘 WebSocket 集线器，也是 Notifier 的生产实现：
// 动作触发的通知直接广播给对应工作区的连接。
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 仪表盘跨域由反向代理控制
	},
}

func NewWebSocketHub(logger *logrus.Logger) *WebSocketHub {
	if logger == nil {
		logger = logrus.New()
	}
	return &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		logger:     logger,
	}
}

// Run 处理连接注册与注销，需在独立 goroutine 运行
func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			h.logger.Infof("Dashboard connected, workspace=%s total=%d", client.WorkspaceID, h.ClientCount())
		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mutex.Unlock()
			h.logger.Infof("Dashboard disconnected, workspace=%s total=%d", client.WorkspaceID, h.ClientCount())
		}
	}
}

// HandleWebSocket gin 入口，workspace_id 由查询参数携带
func (h *WebSocketHub) HandleWebSocket(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	if workspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workspace_id required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &WebSocketClient{
		Conn:        conn,
		WorkspaceID: workspaceID,
		Send:        make(chan WebSocketMessage, 64),
		hub:         h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// SendToWorkspace 广播给某工作区的所有连接；发不进去的直接丢弃
func (h *WebSocketHub) SendToWorkspace(workspaceID string, message WebSocketMessage) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for client := range h.clients {
		if client.WorkspaceID != workspaceID {
			continue
		}
		select {
		case client.Send <- message:
		default:
			h.logger.Warnf("Dashboard send buffer full, dropping message for workspace %s", workspaceID)
		}
	}
}

// ClientCount 当前连接数
func (h *WebSocketHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// NotifyVisitorMessage 实现 Notifier
func (h *WebSocketHub) NotifyVisitorMessage(_ context.Context, workspaceID, roomID, messageID, content, senderName string, timestamp time.Time) {
	h.SendToWorkspace(workspaceID, WebSocketMessage{
		Type: "visitor_message",
		Data: gin.H{
			"room_id":     roomID,
			"message_id":  messageID,
			"content":     content,
			"sender_name": senderName,
			"sent_at":     timestamp,
		},
		Timestamp: time.Now().Unix(),
	})
}

// NotifyQueueChanged 实现 Notifier
func (h *WebSocketHub) NotifyQueueChanged(_ context.Context, workspaceID, departmentID string) {
	h.SendToWorkspace(workspaceID, WebSocketMessage{
		Type: "queue_changed",
		Data: gin.H{
			"department_id": departmentID,
		},
		Timestamp: time.Now().Unix(),
	})
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(4096)
	_ = c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	for {
		// 仪表盘连接只收不发，读循环仅用于探测断开
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warnf("WebSocket read error: %v", err)
			}
			return
		}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
