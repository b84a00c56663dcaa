package models

import (
	"time"

	"gorm.io/gorm"
)

// 工作区（一个客户账号下的独立站点）
type Workspace struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Status    string         `gorm:"default:'active'" json:"status"` // active, trial, suspended
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Departments []Department `gorm:"foreignKey:WorkspaceID" json:"departments,omitempty"`
	Triggers    []Trigger    `gorm:"foreignKey:WorkspaceID" json:"triggers,omitempty"`
}

// 客服部门
type Department struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	WorkspaceID string    `gorm:"index" json:"workspace_id"`
	Name        string    `gorm:"not null" json:"name"`
	Status      string    `gorm:"default:'offline'" json:"status"` // online, away, offline
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Workspace Workspace `gorm:"foreignKey:WorkspaceID" json:"workspace,omitempty"`
}

// 访客
type Visitor struct {
	ID          string         `gorm:"primaryKey" json:"id"`
	WorkspaceID string         `gorm:"index" json:"workspace_id"`
	SessionID   string         `gorm:"index" json:"session_id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Notes       string         `gorm:"type:text" json:"notes"`
	CountryCode string         `json:"country_code"`
	CountryName string         `json:"country_name"`
	Region      string         `json:"region"`
	City        string         `json:"city"`
	IP          string         `json:"ip"`
	Browser     string         `json:"browser"`
	OS          string         `json:"os"`
	Device      string         `json:"device"` // desktop, mobile, tablet
	Language    string         `json:"language"`
	Timezone    string         `json:"timezone"`
	VisitCount  int            `gorm:"default:1" json:"visit_count"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// 会话（访客与客服之间的一次聊天）
type Conversation struct {
	ID           string     `gorm:"primaryKey" json:"id"`
	WorkspaceID  string     `gorm:"index" json:"workspace_id"`
	VisitorID    string     `gorm:"index" json:"visitor_id"`
	SessionID    string     `gorm:"index" json:"session_id"`
	DepartmentID *string    `gorm:"index" json:"department_id"`
	Status       string     `gorm:"default:'open'" json:"status"` // open, served, closed
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Visitor Visitor           `gorm:"foreignKey:VisitorID" json:"visitor,omitempty"`
	Tags    []ConversationTag `gorm:"foreignKey:ConversationID" json:"tags,omitempty"`
}

// 聊天消息（触发器动作会写入 system 消息）
type ChatMessage struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"index" json:"conversation_id"`
	SenderType     string    `json:"sender_type"` // visitor, agent, system
	SenderName     string    `json:"sender_name"`
	Content        string    `gorm:"type:text" json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// 页面访问记录，按访客会话维度保存
type PageVisit struct {
	ID            string    `gorm:"primaryKey" json:"id"`
	WorkspaceID   string    `gorm:"index" json:"workspace_id"`
	SessionID     string    `gorm:"index" json:"session_id"`
	PageURL       string    `json:"page_url"`
	PageTitle     string    `json:"page_title"`
	Referrer      string    `json:"referrer"`
	PageCount     int       `gorm:"default:1" json:"page_count"`
	PageStartedAt time.Time `json:"page_started_at"` // 当前页面打开时刻
	SiteStartedAt time.Time `json:"site_started_at"` // 本次站点访问开始时刻
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// 标签
type Tag struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	WorkspaceID string    `gorm:"index" json:"workspace_id"`
	Name        string    `gorm:"index;not null" json:"name"`
	Source      string    `gorm:"default:'manual'" json:"source"` // manual, system
	CreatedAt   time.Time `json:"created_at"`
}

// 会话与标签的关联；RemovedAt 非空表示已移除但保留记录，便于幂等复活
type ConversationTag struct {
	ID             string     `gorm:"primaryKey" json:"id"`
	ConversationID string     `gorm:"index" json:"conversation_id"`
	TagID          string     `gorm:"index" json:"tag_id"`
	RemovedAt      *time.Time `json:"removed_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	Tag Tag `gorm:"foreignKey:TagID" json:"tag,omitempty"`
}
