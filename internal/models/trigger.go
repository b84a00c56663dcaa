package models

import (
	"time"

	"gorm.io/gorm"
)

// 触发器事件类型
const (
	TriggerEventChatStarted = "CHAT_STARTED"
	TriggerEventMessageSent = "MESSAGE_SENT"
	TriggerEventVisitorIdle = "VISITOR_IDLE"
	TriggerEventPageViewed  = "PAGE_VIEWED"
	TriggerEventChatEnded   = "CHAT_ENDED"
)

// 条件组布尔运算符
const (
	GroupOperatorAnd = "AND"
	GroupOperatorOr  = "OR"
)

// 叶子条件比较运算符
const (
	ConditionOpEq          = "EQ"
	ConditionOpNe          = "NE"
	ConditionOpLt          = "LT"
	ConditionOpLte         = "LTE"
	ConditionOpGt          = "GT"
	ConditionOpGte         = "GTE"
	ConditionOpContains    = "CONTAINS"
	ConditionOpIContains   = "ICONTAINS"
	ConditionOpStartsWith  = "STARTS_WITH"
	ConditionOpIStartsWith = "ISTARTS_WITH"
	ConditionOpEndsWith    = "ENDS_WITH"
	ConditionOpIEndsWith   = "IENDS_WITH"
)

// 动作类型
const (
	ActionWait                 = "WAIT"
	ActionSendMessageToVisitor = "SEND_MESSAGE_TO_VISITOR"
	ActionSetNameOfVisitor     = "SET_NAME_OF_VISITOR"
	ActionAddTag               = "ADD_TAG"
	ActionRemoveTag            = "REMOVE_TAG"
	ActionSetVisitorDepartment = "SET_VISITOR_DEPARTMENT"
	ActionReplaceNote          = "REPLACE_NOTE"
	ActionAppendNote           = "APPEND_NOTE"
)

// 执行日志状态
const (
	ExecutionStatusSuccess = "SUCCESS"
	ExecutionStatusFailed  = "FAILED"
)

// Trigger 自动化触发器定义。条件树与动作列表随触发器级联删除，
// 执行日志保留历史不随删。
type Trigger struct {
	ID           string         `gorm:"primaryKey" json:"id"`
	WorkspaceID  string         `gorm:"index" json:"workspace_id"`
	DepartmentID *string        `gorm:"index" json:"department_id"`
	Name         string         `gorm:"not null" json:"name"`
	Description  string         `json:"description"`
	Event        string         `gorm:"not null;index" json:"event"`
	// 不能挂 default 标签：gorm 会跳过零值字段，enabled=false 将写不进去
	Enabled      bool           `json:"enabled"`
	Priority     int            `gorm:"default:1" json:"priority"` // 越大越先执行
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	Groups     []TriggerConditionGroup `gorm:"foreignKey:TriggerID" json:"groups,omitempty"`
	Conditions []TriggerCondition      `gorm:"foreignKey:TriggerID" json:"conditions,omitempty"`
	Actions    []TriggerAction         `gorm:"foreignKey:TriggerID" json:"actions,omitempty"`
}

// TriggerConditionGroup AND/OR 条件组；ParentID 为空表示根组。
// 更新时整树替换，不做局部修改。
type TriggerConditionGroup struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	TriggerID string    `gorm:"index" json:"trigger_id"`
	ParentID  *string   `gorm:"index" json:"parent_id"`
	Operator  string    `gorm:"not null" json:"operator"` // AND, OR
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

// TriggerCondition 叶子条件。Operator 为空仅限三个特殊计算字段
// （STILL_ON_PAGE / STILL_ON_SITE / DEPARTMENT_STATUS）。
type TriggerCondition struct {
	ID        string  `gorm:"primaryKey" json:"id"`
	TriggerID string  `gorm:"index" json:"trigger_id"`
	GroupID   string  `gorm:"index" json:"group_id"`
	Field     string  `gorm:"not null" json:"field"`
	Operator  *string `json:"operator"`

	PrimaryStringValue   *string  `json:"primary_string_value"`
	PrimaryNumberValue   *float64 `json:"primary_number_value"`
	PrimaryBoolValue     *bool    `json:"primary_bool_value"`
	SecondaryStringValue *string  `json:"secondary_string_value"`
	SecondaryNumberValue *float64 `json:"secondary_number_value"`
	SecondaryBoolValue   *bool    `json:"secondary_bool_value"`

	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

// TriggerAction 触发器动作，严格按 SortOrder 顺序执行。
// 两个参数槽各有 int/string/bool 变体，未用的保持 null。
type TriggerAction struct {
	ID        string `gorm:"primaryKey" json:"id"`
	TriggerID string `gorm:"index" json:"trigger_id"`
	Type      string `gorm:"not null" json:"type"`
	SortOrder int    `json:"sort_order"`

	PrimaryIntValue      *int    `json:"primary_int_value"`
	PrimaryStringValue   *string `json:"primary_string_value"`
	PrimaryBoolValue     *bool   `json:"primary_bool_value"`
	SecondaryIntValue    *int    `json:"secondary_int_value"`
	SecondaryStringValue *string `json:"secondary_string_value"`
	SecondaryBoolValue   *bool   `json:"secondary_bool_value"`

	CreatedAt time.Time `json:"created_at"`
}

// TriggerExecutionLog 每个触发器一行的聚合执行统计。
// 只在条件命中后 upsert；计数用 SQL 原子自增，避免并发读改写竞争。
type TriggerExecutionLog struct {
	ID              string     `gorm:"primaryKey" json:"id"`
	TriggerID       string     `gorm:"uniqueIndex" json:"trigger_id"`
	WorkspaceID     string     `gorm:"index" json:"workspace_id"`
	TotalExecutions int64      `gorm:"default:0" json:"total_executions"`
	TotalSuccesses  int64      `gorm:"default:0" json:"total_successes"`
	TotalFailures   int64      `gorm:"default:0" json:"total_failures"`
	CurrentStatus   string     `json:"current_status"` // SUCCESS, FAILED
	LastTriggeredAt *time.Time `json:"last_triggered_at"`
	Detail          string     `gorm:"type:text" json:"detail"` // JSON: 最近一次成功/失败的时间与消息
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ValidTriggerEvent 校验事件类型是否受支持
func ValidTriggerEvent(event string) bool {
	switch event {
	case TriggerEventChatStarted, TriggerEventMessageSent, TriggerEventVisitorIdle,
		TriggerEventPageViewed, TriggerEventChatEnded:
		return true
	}
	return false
}
