package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flowdesk/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ExecutionLogStore 每触发器一行的聚合执行统计。只在条件命中后写入；
// 同一行会被同波次多个任务并发更新，计数必须用 SQL 原子自增。
type ExecutionLogStore struct {
	db *gorm.DB
}

func NewExecutionLogStore(db *gorm.DB) *ExecutionLogStore {
	return &ExecutionLogStore{db: db}
}

type executionDetail struct {
	Status  string    `json:"status"`
	At      time.Time `json:"at"`
	Message string    `json:"message,omitempty"`
}

// RecordExecution upsert 一次命中的执行结果
func (s *ExecutionLogStore) RecordExecution(ctx context.Context, workspaceID, triggerID string, success bool, message string, when time.Time) error {
	status := models.ExecutionStatusSuccess
	successInc := 1
	failureInc := 0
	if !success {
		status = models.ExecutionStatusFailed
		successInc = 0
		failureInc = 1
	}
	detail, _ := json.Marshal(executionDetail{Status: status, At: when, Message: message})

	row := models.TriggerExecutionLog{
		ID:              uuid.NewString(),
		TriggerID:       triggerID,
		WorkspaceID:     workspaceID,
		TotalExecutions: 1,
		TotalSuccesses:  int64(successInc),
		TotalFailures:   int64(failureInc),
		CurrentStatus:   status,
		LastTriggeredAt: &when,
		Detail:          string(detail),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "trigger_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_executions":  gorm.Expr("trigger_execution_logs.total_executions + 1"),
			"total_successes":   gorm.Expr("trigger_execution_logs.total_successes + ?", successInc),
			"total_failures":    gorm.Expr("trigger_execution_logs.total_failures + ?", failureInc),
			"current_status":    status,
			"last_triggered_at": when,
			"detail":            string(detail),
			"updated_at":        time.Now(),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("record execution for trigger %s: %w", triggerID, err)
	}
	return nil
}

// GetByTrigger 查询某触发器的执行统计，不存在返回 nil
func (s *ExecutionLogStore) GetByTrigger(ctx context.Context, triggerID string) (*models.TriggerExecutionLog, error) {
	var row models.TriggerExecutionLog
	err := s.db.WithContext(ctx).First(&row, "trigger_id = ?", triggerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListByWorkspace 工作区内全部触发器的执行统计
func (s *ExecutionLogStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]models.TriggerExecutionLog, error) {
	var rows []models.TriggerExecutionLog
	err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("updated_at DESC").
		Find(&rows).Error
	return rows, err
}
