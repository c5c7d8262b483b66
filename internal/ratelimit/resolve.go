package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/ukschat/ukschat/internal/models"
	"gorm.io/gorm"
)

// ResolveLimit resolves the effective chat rate limit for a user.
// The active subscription's plan limit wins; defaultLimit applies otherwise.
func ResolveLimit(ctx context.Context, db *gorm.DB, userID uint64, defaultLimit int) (Decision, error) {
	if db == nil || userID == 0 {
		return Decision{}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	planID, planLimit, errPlan := loadPlanRateLimit(ctx, db, userID, time.Now().UTC())
	if errPlan != nil {
		return Decision{}, errPlan
	}
	if planLimit > 0 && planID > 0 {
		return Decision{Limit: planLimit, Scope: ScopePlan, PlanID: planID}, nil
	}
	if defaultLimit > 0 {
		return Decision{Limit: defaultLimit, Scope: ScopeUser}, nil
	}
	return Decision{}, nil
}

func loadPlanRateLimit(ctx context.Context, db *gorm.DB, userID uint64, now time.Time) (uint64, int, error) {
	type planRow struct {
		PlanID    uint64
		RateLimit int
	}
	var row planRow
	if errFind := db.WithContext(ctx).
		Model(&models.Subscription{}).
		Select("subscriptions.plan_id AS plan_id", "plans.rate_limit AS rate_limit").
		Joins("JOIN plans ON plans.id = subscriptions.plan_id").
		Where("subscriptions.user_id = ? AND subscriptions.status = ?", userID, models.SubscriptionStatusActive).
		Where("subscriptions.end_date >= ?", now).
		Order("subscriptions.start_date DESC").
		Order("subscriptions.id DESC").
		Limit(1).
		Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, 0, nil
		}
		return 0, 0, errFind
	}
	return row.PlanID, row.RateLimit, nil
}
