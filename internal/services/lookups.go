package services

import (
	"context"
	"errors"

	"flowdesk/internal/models"

	"gorm.io/gorm"
)

// LookupStore 求值与模板渲染所需的只读查询端口。
// 生产实现走 GORM，测试可注入假实现。
type LookupStore interface {
	DepartmentStatus(ctx context.Context, departmentID string) (string, error)
	PageVisitBySession(ctx context.Context, workspaceID, sessionID string) (*models.PageVisit, error)
}

// GormLookupStore 基于数据库的查询实现
type GormLookupStore struct {
	db *gorm.DB
}

func NewGormLookupStore(db *gorm.DB) *GormLookupStore {
	return &GormLookupStore{db: db}
}

// DepartmentStatus 返回部门当前状态（online/away/offline），不存在时返回空串
func (s *GormLookupStore) DepartmentStatus(ctx context.Context, departmentID string) (string, error) {
	var dept models.Department
	err := s.db.WithContext(ctx).First(&dept, "id = ?", departmentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return dept.Status, nil
}

// PageVisitBySession 按访客会话查最近一次页面访问记录，不存在时返回 nil
func (s *GormLookupStore) PageVisitBySession(ctx context.Context, workspaceID, sessionID string) (*models.PageVisit, error) {
	var visit models.PageVisit
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND session_id = ?", workspaceID, sessionID).
		Order("updated_at DESC").
		First(&visit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &visit, nil
}
