package services

import (
	"context"
	"time"

	"flowdesk/pkg/pushkit"

	"github.com/sirupsen/logrus"
)

// Notifier 仪表盘通知协作方。所有调用都是 fire-and-forget：
// 失败只记日志，绝不影响动作本身的成败。
type Notifier interface {
	NotifyVisitorMessage(ctx context.Context, workspaceID, roomID, messageID, content, senderName string, timestamp time.Time)
	NotifyQueueChanged(ctx context.Context, workspaceID, departmentID string)
}

// NoopNotifier 空实现，用于测试与嵌入式运行
type NoopNotifier struct{}

func (NoopNotifier) NotifyVisitorMessage(context.Context, string, string, string, string, string, time.Time) {
}
func (NoopNotifier) NotifyQueueChanged(context.Context, string, string) {}

// WebhookNotifier 把通知推给外部仪表盘网关
type WebhookNotifier struct {
	client *pushkit.Client
	logger *logrus.Logger
}

func NewWebhookNotifier(client *pushkit.Client, logger *logrus.Logger) *WebhookNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &WebhookNotifier{client: client, logger: logger}
}

func (n *WebhookNotifier) NotifyVisitorMessage(ctx context.Context, workspaceID, roomID, messageID, content, senderName string, timestamp time.Time) {
	err := n.client.PushVisitorMessage(ctx, &pushkit.VisitorMessage{
		WorkspaceID: workspaceID,
		RoomID:      roomID,
		MessageID:   messageID,
		Content:     content,
		SenderName:  senderName,
		Timestamp:   timestamp,
	})
	if err != nil {
		n.logger.Warnf("push visitor message failed: %v", err)
	}
}

func (n *WebhookNotifier) NotifyQueueChanged(ctx context.Context, workspaceID, departmentID string) {
	if err := n.client.PushQueueChanged(ctx, workspaceID, departmentID); err != nil {
		n.logger.Warnf("push queue changed failed: %v", err)
	}
}

// CompositeNotifier 按顺序广播到多个下游
type CompositeNotifier []Notifier

func (c CompositeNotifier) NotifyVisitorMessage(ctx context.Context, workspaceID, roomID, messageID, content, senderName string, timestamp time.Time) {
	for _, n := range c {
		n.NotifyVisitorMessage(ctx, workspaceID, roomID, messageID, content, senderName, timestamp)
	}
}

func (c CompositeNotifier) NotifyQueueChanged(ctx context.Context, workspaceID, departmentID string) {
	for _, n := range c {
		n.NotifyQueueChanged(ctx, workspaceID, departmentID)
	}
}
