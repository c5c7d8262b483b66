package models

import "time"

// Chat message roles.
const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
	ChatRoleSystem    = "system"
)

// ChatMessage is one persisted turn of a user's conversation.
type ChatMessage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID  uint64 `gorm:"not null;index"`            // Conversation owner.
	Role    string `gorm:"type:varchar(20);not null"` // Message author role.
	Content string `gorm:"type:text;not null"`        // Message body.

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"` // Conversation owner row.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
