package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"flowdesk/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ActionExecutor 执行触发器动作。每个动作至多一次状态变更，错误
// 以返回值上抛，由编排器统一记入执行日志，绝不越界 panic。
type ActionExecutor struct {
	db       *gorm.DB
	notifier Notifier
	logger   *logrus.Logger
	// sleep 可注入，测试里替换为计数桩
	sleep func(ctx context.Context, d time.Duration) error
}

func NewActionExecutor(db *gorm.DB, notifier Notifier, logger *logrus.Logger) *ActionExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &ActionExecutor{
		db:       db,
		notifier: notifier,
		logger:   logger,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute 分发并执行单个动作。vars 是本次求值批次的模板变量表。
func (x *ActionExecutor) Execute(ctx context.Context, action models.TriggerAction, ec *EventContext, vars map[string]string) error {
	switch action.Type {
	case models.ActionWait:
		return x.wait(ctx, action)
	case models.ActionSendMessageToVisitor:
		return x.sendMessageToVisitor(ctx, action, ec, vars)
	case models.ActionSetNameOfVisitor:
		return x.setNameOfVisitor(ctx, action, ec, vars)
	case models.ActionAddTag:
		return x.addTag(ctx, action, ec, vars)
	case models.ActionRemoveTag:
		return x.removeTag(ctx, action, ec, vars)
	case models.ActionSetVisitorDepartment:
		return x.setVisitorDepartment(ctx, action, ec)
	case models.ActionReplaceNote:
		return x.replaceNote(ctx, action, ec, vars)
	case models.ActionAppendNote:
		return x.appendNote(ctx, action, ec, vars)
	}
	return fmt.Errorf("unsupported action type: %s", action.Type)
}

// wait 只挂起当前触发器自己的动作序列，不影响同波次的其他触发器
func (x *ActionExecutor) wait(ctx context.Context, action models.TriggerAction) error {
	seconds := intParam(action.PrimaryIntValue)
	if seconds <= 0 {
		return nil
	}
	return x.sleep(ctx, time.Duration(seconds)*time.Second)
}

func (x *ActionExecutor) sendMessageToVisitor(ctx context.Context, action models.TriggerAction, ec *EventContext, vars map[string]string) error {
	roomID := ec.ConversationID()
	if roomID == "" {
		x.logger.Debugf("send message: no room in context, skipping")
		return nil
	}
	senderName := RenderTemplate(strParam(action.PrimaryStringValue), vars)
	content := strings.TrimSpace(RenderTemplate(strParam(action.SecondaryStringValue), vars))
	if content == "" {
		return nil
	}

	msg := &models.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: roomID,
		SenderType:     "system",
		SenderName:     senderName,
		Content:        content,
		CreatedAt:      ec.Timestamp,
	}
	if err := x.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("persist system message: %w", err)
	}

	// 投递走外部通知协作方，不等待也不重试
	x.notifier.NotifyVisitorMessage(ctx, ec.WorkspaceID, roomID, msg.ID, content, senderName, msg.CreatedAt)
	return nil
}

func (x *ActionExecutor) setNameOfVisitor(ctx context.Context, action models.TriggerAction, ec *EventContext, vars map[string]string) error {
	name := strings.TrimSpace(RenderTemplate(strParam(action.PrimaryStringValue), vars))
	visitorID := ec.VisitorID()
	if name == "" || visitorID == "" || ec.WorkspaceID == "" {
		return nil
	}
	err := x.db.WithContext(ctx).Model(&models.Visitor{}).
		Where("id = ? AND workspace_id = ?", visitorID, ec.WorkspaceID).
		Update("display_name", name).Error
	if err != nil {
		return fmt.Errorf("set visitor name: %w", err)
	}
	x.notifier.NotifyQueueChanged(ctx, ec.WorkspaceID, ec.DepartmentID)
	return nil
}

func (x *ActionExecutor) addTag(ctx context.Context, action models.TriggerAction, ec *EventContext, vars map[string]string) error {
	tagName := strings.TrimSpace(RenderTemplate(strParam(action.PrimaryStringValue), vars))
	conversationID := ec.ConversationID()
	if tagName == "" || conversationID == "" {
		return nil
	}

	var tag models.Tag
	err := x.db.WithContext(ctx).
		Where("workspace_id = ? AND name = ?", ec.WorkspaceID, tagName).
		First(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		tag = models.Tag{
			ID:          uuid.NewString(),
			WorkspaceID: ec.WorkspaceID,
			Name:        tagName,
			Source:      "system",
			CreatedAt:   time.Now(),
		}
		if err := x.db.WithContext(ctx).Create(&tag).Error; err != nil {
			return fmt.Errorf("create system tag: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("find tag: %w", err)
	}

	// 幂等挂接：已有关联（哪怕曾被移除）就复活，不重复建行
	var assoc models.ConversationTag
	err = x.db.WithContext(ctx).
		Where("conversation_id = ? AND tag_id = ?", conversationID, tag.ID).
		First(&assoc).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		assoc = models.ConversationTag{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			TagID:          tag.ID,
			CreatedAt:      time.Now(),
		}
		if err := x.db.WithContext(ctx).Create(&assoc).Error; err != nil {
			return fmt.Errorf("attach tag: %w", err)
		}
	case err != nil:
		return fmt.Errorf("find tag association: %w", err)
	case assoc.RemovedAt != nil:
		if err := x.db.WithContext(ctx).Model(&assoc).Update("removed_at", nil).Error; err != nil {
			return fmt.Errorf("revive tag association: %w", err)
		}
	}

	x.notifier.NotifyQueueChanged(ctx, ec.WorkspaceID, ec.DepartmentID)
	return nil
}

func (x *ActionExecutor) removeTag(ctx context.Context, action models.TriggerAction, ec *EventContext, vars map[string]string) error {
	tagName := strings.TrimSpace(RenderTemplate(strParam(action.PrimaryStringValue), vars))
	conversationID := ec.ConversationID()
	if tagName == "" || conversationID == "" {
		return nil
	}

	var tag models.Tag
	err := x.db.WithContext(ctx).
		Where("workspace_id = ? AND name = ?", ec.WorkspaceID, tagName).
		First(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find tag: %w", err)
	}

	var assoc models.ConversationTag
	err = x.db.WithContext(ctx).
		Where("conversation_id = ? AND tag_id = ? AND removed_at IS NULL", conversationID, tag.ID).
		First(&assoc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find tag association: %w", err)
	}

	now := time.Now()
	if err := x.db.WithContext(ctx).Model(&assoc).Update("removed_at", now).Error; err != nil {
		return fmt.Errorf("remove tag association: %w", err)
	}
	x.notifier.NotifyQueueChanged(ctx, ec.WorkspaceID, ec.DepartmentID)
	return nil
}

func (x *ActionExecutor) setVisitorDepartment(ctx context.Context, action models.TriggerAction, ec *EventContext) error {
	departmentID := strParam(action.PrimaryStringValue)
	conversationID := ec.ConversationID()
	if departmentID == "" || conversationID == "" {
		return nil
	}
	err := x.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("department_id", departmentID).Error
	if err != nil {
		return fmt.Errorf("set serving department: %w", err)
	}
	x.notifier.NotifyQueueChanged(ctx, ec.WorkspaceID, departmentID)
	return nil
}

func (x *ActionExecutor) replaceNote(ctx context.Context, action models.TriggerAction, ec *EventContext, vars map[string]string) error {
	visitorID := ec.VisitorID()
	if visitorID == "" {
		return nil
	}
	text := RenderTemplate(strParam(action.PrimaryStringValue), vars)
	err := x.db.WithContext(ctx).Model(&models.Visitor{}).
		Where("id = ?", visitorID).
		Update("notes", text).Error
	if err != nil {
		return fmt.Errorf("replace note: %w", err)
	}
	return nil
}

func (x *ActionExecutor) appendNote(ctx context.Context, action models.TriggerAction, ec *EventContext, vars map[string]string) error {
	visitorID := ec.VisitorID()
	text := strings.TrimSpace(RenderTemplate(strParam(action.PrimaryStringValue), vars))
	if visitorID == "" || text == "" {
		return nil
	}
	var visitor models.Visitor
	err := x.db.WithContext(ctx).First(&visitor, "id = ?", visitorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load visitor: %w", err)
	}
	notes := visitor.Notes
	if notes == "" {
		notes = text
	} else {
		notes = notes + "\n" + text
	}
	if err := x.db.WithContext(ctx).Model(&visitor).Update("notes", notes).Error; err != nil {
		return fmt.Errorf("append note: %w", err)
	}
	return nil
}

func intParam(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func strParam(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
