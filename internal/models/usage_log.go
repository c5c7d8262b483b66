package models

import "time"

// UsageLog is an append-only record of consumed chat turns.
type UsageLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID         uint64 `gorm:"not null;index"` // Consuming user ID.
	SubscriptionID uint64 `gorm:"not null;index"` // Debited subscription ID.
	TokensUsed     int    `gorm:"not null"`       // Consumed amount.

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"` // Consuming user row.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Consumption timestamp.
}
