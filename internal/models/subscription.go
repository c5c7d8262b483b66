package models

import "time"

// SubscriptionStatus represents the lifecycle state of a subscription.
type SubscriptionStatus string

// SubscriptionStatus constants define subscription lifecycle states.
const (
	// SubscriptionStatusActive marks the subscription currently metering usage.
	SubscriptionStatusActive SubscriptionStatus = "active"
	// SubscriptionStatusExpired marks a subscription superseded by a newer activation.
	SubscriptionStatusExpired SubscriptionStatus = "expired"
	// SubscriptionStatusCancelled marks a subscription cancelled by its owner.
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription grants a plan's quota to a user for a fixed window.
type Subscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index:idx_subscriptions_user_status,priority:1"` // Owning user ID.
	User   User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`           // Owning user.

	PlanID uint64 `gorm:"not null;index"`    // Granted plan ID.
	Plan   Plan   `gorm:"foreignKey:PlanID"` // Granted plan.

	Status SubscriptionStatus `gorm:"type:varchar(20);not null;index:idx_subscriptions_user_status,priority:2"` // Lifecycle state.

	StartDate time.Time `gorm:"not null"` // Window start.
	EndDate   time.Time `gorm:"not null"` // Window end.

	UsedTokens int `gorm:"not null;default:0"` // Consumed chat turns, never decreases.
	TokenQuota int `gorm:"not null;default:0"` // Plan quota captured at activation.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// RemainingTokens returns the unused quota, never negative.
func (s *Subscription) RemainingTokens() int {
	if s == nil {
		return 0
	}
	left := s.TokenQuota - s.UsedTokens
	if left < 0 {
		return 0
	}
	return left
}

// IsLapsed reports whether the subscription window has ended at now.
func (s *Subscription) IsLapsed(now time.Time) bool {
	if s == nil || s.EndDate.IsZero() {
		return false
	}
	return s.EndDate.Before(now)
}
