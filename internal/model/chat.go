package model

import "time"

// 消息角色。历史数据中的 "ai" 视为 assistant。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	legacyRoleAI  = "ai"
)

// DefaultSessionTitle 是新建会话的默认标题。
const DefaultSessionTitle = "New Chat"

// ChatSession 是某个用户针对某份教材的一次对话。
type ChatSession struct {
	ID         string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID     uint          `gorm:"index;not null" json:"userId"`
	DocumentID string        `gorm:"index;type:varchar(128);not null" json:"documentId"`
	Title      string        `gorm:"type:varchar(255);default:'New Chat'" json:"sessionTitle"`
	CreatedAt  time.Time     `gorm:"autoCreateTime" json:"createdAt"`
	Messages   []ChatMessage `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatMessage 是会话中的一条消息，只追加、按创建时间排序。
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string    `gorm:"index;type:varchar(36);not null" json:"-"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"` // "user" 或 "assistant"
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

// NormalizedRole 返回规范化后的角色名。
func (m ChatMessage) NormalizedRole() string {
	if m.Role == legacyRoleAI {
		return RoleAssistant
	}
	return m.Role
}

// SessionSummary 是会话列表项。
type SessionSummary struct {
	ID                 string    `json:"id"`
	DocumentID         string    `json:"documentId"`
	SessionTitle       string    `json:"sessionTitle"`
	CreatedAt          LocalTime `json:"createdAt"`
	LastMessagePreview string    `json:"lastMessagePreview,omitempty"`
}
