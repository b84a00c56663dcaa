package services

import (
	"context"
	"errors"
	"fmt"

	"flowdesk/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultMaxActions 单触发器动作数上限
const DefaultMaxActions = 100

// TriggerService 触发器定义的写路径：创建/更新/启停/删除，含写时校验
// 与缓存同步。条件树更新为整树替换，从不局部修改。
type TriggerService struct {
	db         *gorm.DB
	cache      TriggerCache
	maxActions int
	logger     *logrus.Logger
}

func NewTriggerService(db *gorm.DB, cache TriggerCache, maxActions int, logger *logrus.Logger) *TriggerService {
	if logger == nil {
		logger = logrus.New()
	}
	if maxActions <= 0 {
		maxActions = DefaultMaxActions
	}
	return &TriggerService{db: db, cache: cache, maxActions: maxActions, logger: logger}
}

// TriggerRequest 创建/更新触发器的请求体
type TriggerRequest struct {
	Name         string          `json:"name" binding:"required"`
	Description  string          `json:"description"`
	Event        string          `json:"event" binding:"required"`
	DepartmentID *string         `json:"department_id"`
	Enabled      *bool           `json:"enabled"`
	Priority     int             `json:"priority"`
	Root         *ConditionNode  `json:"root" binding:"required"`
	Actions      []ActionRequest `json:"actions"`
}

// ActionRequest 动作定义，列表顺序即执行顺序
type ActionRequest struct {
	Type                 string  `json:"type" binding:"required"`
	PrimaryIntValue      *int    `json:"primary_int_value"`
	PrimaryStringValue   *string `json:"primary_string_value"`
	PrimaryBoolValue     *bool   `json:"primary_bool_value"`
	SecondaryIntValue    *int    `json:"secondary_int_value"`
	SecondaryStringValue *string `json:"secondary_string_value"`
	SecondaryBoolValue   *bool   `json:"secondary_bool_value"`
}

func validActionType(t string) bool {
	switch t {
	case models.ActionWait, models.ActionSendMessageToVisitor, models.ActionSetNameOfVisitor,
		models.ActionAddTag, models.ActionRemoveTag, models.ActionSetVisitorDepartment,
		models.ActionReplaceNote, models.ActionAppendNote:
		return true
	}
	return false
}

// validateRequest 所有校验在任何持久化之前完成
func (s *TriggerService) validateRequest(req *TriggerRequest) error {
	if req == nil {
		return fmt.Errorf("request is nil")
	}
	if req.Name == "" {
		return fmt.Errorf("trigger name is required")
	}
	if !models.ValidTriggerEvent(req.Event) {
		return fmt.Errorf("unsupported trigger event: %s", req.Event)
	}
	if req.Priority <= 0 {
		return fmt.Errorf("trigger priority must be a positive integer")
	}
	if req.Root == nil {
		return fmt.Errorf("trigger requires a root condition node")
	}
	// 根节点必须是 AND/OR 组，叶子不能当根
	if req.Root.Group == nil {
		return fmt.Errorf("root condition node must be an AND or OR group")
	}
	if err := req.Root.Validate(); err != nil {
		return fmt.Errorf("invalid condition tree: %w", err)
	}
	if len(req.Actions) > s.maxActions {
		return fmt.Errorf("too many actions: %d (max %d)", len(req.Actions), s.maxActions)
	}
	for _, a := range req.Actions {
		if !validActionType(a.Type) {
			return fmt.Errorf("unsupported action type: %s", a.Type)
		}
	}
	return nil
}

// Create 创建触发器并同步缓存
func (s *TriggerService) Create(ctx context.Context, workspaceID string, req *TriggerRequest) (*models.Trigger, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	trigger := &models.Trigger{
		ID:           uuid.NewString(),
		WorkspaceID:  workspaceID,
		DepartmentID: req.DepartmentID,
		Name:         req.Name,
		Description:  req.Description,
		Event:        req.Event,
		Enabled:      enabled,
		Priority:     req.Priority,
	}
	groups, conditions, err := flattenConditionTree(trigger.ID, req.Root)
	if err != nil {
		return nil, err
	}
	actions := actionRows(trigger.ID, req.Actions)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(trigger).Error; err != nil {
			return err
		}
		if err := tx.Create(&groups).Error; err != nil {
			return err
		}
		if len(conditions) > 0 {
			if err := tx.Create(&conditions).Error; err != nil {
				return err
			}
		}
		if len(actions) > 0 {
			if err := tx.Create(&actions).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create trigger: %w", err)
	}

	s.syncCache(ctx, trigger, req.Root, actions)
	trigger.Groups = groups
	trigger.Conditions = conditions
	trigger.Actions = actions
	return trigger, nil
}

// Update 更新触发器；条件树与动作整体替换
func (s *TriggerService) Update(ctx context.Context, workspaceID, triggerID string, req *TriggerRequest) (*models.Trigger, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	trigger, err := s.Get(ctx, workspaceID, triggerID)
	if err != nil {
		return nil, err
	}
	if trigger == nil {
		return nil, fmt.Errorf("trigger not found")
	}

	enabled := trigger.Enabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	trigger.Name = req.Name
	trigger.Description = req.Description
	trigger.Event = req.Event
	trigger.DepartmentID = req.DepartmentID
	trigger.Enabled = enabled
	trigger.Priority = req.Priority

	groups, conditions, err := flattenConditionTree(trigger.ID, req.Root)
	if err != nil {
		return nil, err
	}
	actions := actionRows(trigger.ID, req.Actions)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteTriggerChildren(tx, trigger.ID); err != nil {
			return err
		}
		// trigger 带着 Get 预载的旧关联，必须跳过关联保存，
		// 否则刚删掉的旧树/旧动作会被重新写回
		if err := tx.Omit(clause.Associations).Save(trigger).Error; err != nil {
			return err
		}
		if err := tx.Create(&groups).Error; err != nil {
			return err
		}
		if len(conditions) > 0 {
			if err := tx.Create(&conditions).Error; err != nil {
				return err
			}
		}
		if len(actions) > 0 {
			if err := tx.Create(&actions).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update trigger: %w", err)
	}

	s.syncCache(ctx, trigger, req.Root, actions)
	trigger.Groups = groups
	trigger.Conditions = conditions
	trigger.Actions = actions
	return trigger, nil
}

// SetEnabled 启停触发器并同步缓存
func (s *TriggerService) SetEnabled(ctx context.Context, workspaceID, triggerID string, enabled bool) error {
	trigger, err := s.Get(ctx, workspaceID, triggerID)
	if err != nil {
		return err
	}
	if trigger == nil {
		return fmt.Errorf("trigger not found")
	}
	if err := s.db.WithContext(ctx).Model(trigger).Update("enabled", enabled).Error; err != nil {
		return fmt.Errorf("toggle trigger: %w", err)
	}
	trigger.Enabled = enabled

	if !enabled {
		if err := s.cache.RemoveTrigger(ctx, workspaceID, triggerID); err != nil {
			s.logger.Warnf("trigger cache: remove %s failed, cache may drift until next sync: %v", triggerID, err)
		}
		return nil
	}
	root, err := BuildConditionTree(trigger.Groups, trigger.Conditions)
	if err != nil {
		return fmt.Errorf("rebuild condition tree: %w", err)
	}
	s.syncCache(ctx, trigger, root, trigger.Actions)
	return nil
}

// Delete 删除触发器：级联条件与动作及缓存条目，执行日志保留
func (s *TriggerService) Delete(ctx context.Context, workspaceID, triggerID string) error {
	trigger, err := s.Get(ctx, workspaceID, triggerID)
	if err != nil {
		return err
	}
	if trigger == nil {
		return fmt.Errorf("trigger not found")
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteTriggerChildren(tx, triggerID); err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.Trigger{}, "id = ?", triggerID).Error
	})
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	if err := s.cache.RemoveTrigger(ctx, workspaceID, triggerID); err != nil {
		s.logger.Warnf("trigger cache: remove %s failed, cache may drift until next sync: %v", triggerID, err)
	}
	return nil
}

// Get 按 id 取触发器（含条件与动作行）；不存在返回 nil
func (s *TriggerService) Get(ctx context.Context, workspaceID, triggerID string) (*models.Trigger, error) {
	var trigger models.Trigger
	err := s.db.WithContext(ctx).
		Preload("Groups").Preload("Conditions").Preload("Actions").
		First(&trigger, "id = ? AND workspace_id = ?", triggerID, workspaceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trigger, nil
}

// List 工作区内全部触发器，按优先级降序
func (s *TriggerService) List(ctx context.Context, workspaceID string) ([]models.Trigger, error) {
	var triggers []models.Trigger
	err := s.db.WithContext(ctx).
		Preload("Groups").Preload("Conditions").Preload("Actions").
		Where("workspace_id = ?", workspaceID).
		Order("priority DESC, created_at ASC").
		Find(&triggers).Error
	return triggers, err
}

// Snapshot 从持久化行构建缓存快照
func (s *TriggerService) Snapshot(trigger *models.Trigger) (*TriggerSnapshot, error) {
	root, err := BuildConditionTree(trigger.Groups, trigger.Conditions)
	if err != nil {
		return nil, err
	}
	return snapshotOf(trigger, root, trigger.Actions), nil
}

// syncCache 同步缓存；失败只告警。这属于已知的缓存漂移窗口，
// 由周期重建任务兜底收敛。
func (s *TriggerService) syncCache(ctx context.Context, trigger *models.Trigger, root *ConditionNode, actions []models.TriggerAction) {
	if err := s.cache.SyncTrigger(ctx, snapshotOf(trigger, root, actions)); err != nil {
		s.logger.Warnf("trigger cache: sync %s failed, cache may drift until next sync: %v", trigger.ID, err)
	}
}

func snapshotOf(trigger *models.Trigger, root *ConditionNode, actions []models.TriggerAction) *TriggerSnapshot {
	return &TriggerSnapshot{
		ID:           trigger.ID,
		WorkspaceID:  trigger.WorkspaceID,
		DepartmentID: trigger.DepartmentID,
		Name:         trigger.Name,
		Event:        trigger.Event,
		Enabled:      trigger.Enabled,
		Priority:     trigger.Priority,
		Root:         root,
		Actions:      actions,
	}
}

func deleteTriggerChildren(tx *gorm.DB, triggerID string) error {
	if err := tx.Where("trigger_id = ?", triggerID).Delete(&models.TriggerCondition{}).Error; err != nil {
		return err
	}
	if err := tx.Where("trigger_id = ?", triggerID).Delete(&models.TriggerConditionGroup{}).Error; err != nil {
		return err
	}
	return tx.Where("trigger_id = ?", triggerID).Delete(&models.TriggerAction{}).Error
}

// flattenConditionTree 把校验过的条件树摊平成组/条件行
func flattenConditionTree(triggerID string, root *ConditionNode) ([]models.TriggerConditionGroup, []models.TriggerCondition, error) {
	if root == nil || root.Group == nil {
		return nil, nil, fmt.Errorf("root condition node must be a group")
	}
	var groups []models.TriggerConditionGroup
	var conditions []models.TriggerCondition

	var walk func(node *ConditionGroupNode, parentID *string, sortOrder int) error
	walk = func(node *ConditionGroupNode, parentID *string, sortOrder int) error {
		row := models.TriggerConditionGroup{
			ID:        uuid.NewString(),
			TriggerID: triggerID,
			ParentID:  parentID,
			Operator:  node.Operator,
			SortOrder: sortOrder,
		}
		groups = append(groups, row)
		for i, child := range node.Children {
			switch {
			case child.Leaf != nil:
				conditions = append(conditions, conditionRow(triggerID, row.ID, child.Leaf, i))
			case child.Group != nil:
				if err := walk(child.Group, &row.ID, i); err != nil {
					return err
				}
			default:
				return fmt.Errorf("condition node is neither leaf nor group")
			}
		}
		return nil
	}
	if err := walk(root.Group, nil, 0); err != nil {
		return nil, nil, err
	}
	return groups, conditions, nil
}

func conditionRow(triggerID, groupID string, leaf *ConditionLeaf, sortOrder int) models.TriggerCondition {
	row := models.TriggerCondition{
		ID:        uuid.NewString(),
		TriggerID: triggerID,
		GroupID:   groupID,
		Field:     leaf.Field,
		SortOrder: sortOrder,
	}
	if leaf.Operator != "" {
		op := leaf.Operator
		row.Operator = &op
	}
	assignValue(leaf.Primary, &row.PrimaryStringValue, &row.PrimaryNumberValue, &row.PrimaryBoolValue)
	assignValue(leaf.Secondary, &row.SecondaryStringValue, &row.SecondaryNumberValue, &row.SecondaryBoolValue)
	return row
}

func assignValue(v interface{}, s **string, n **float64, b **bool) {
	switch val := v.(type) {
	case string:
		*s = &val
	case float64:
		*n = &val
	case int:
		f := float64(val)
		*n = &f
	case bool:
		*b = &val
	}
}

func actionRows(triggerID string, reqs []ActionRequest) []models.TriggerAction {
	rows := make([]models.TriggerAction, 0, len(reqs))
	for i, a := range reqs {
		rows = append(rows, models.TriggerAction{
			ID:                   uuid.NewString(),
			TriggerID:            triggerID,
			Type:                 a.Type,
			SortOrder:            i,
			PrimaryIntValue:      a.PrimaryIntValue,
			PrimaryStringValue:   a.PrimaryStringValue,
			PrimaryBoolValue:     a.PrimaryBoolValue,
			SecondaryIntValue:    a.SecondaryIntValue,
			SecondaryStringValue: a.SecondaryStringValue,
			SecondaryBoolValue:   a.SecondaryBoolValue,
		})
	}
	return rows
}
