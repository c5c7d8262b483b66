// Package subscription owns the subscription ledger: activation, lookup,
// cancellation and the per-user usage snapshot.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ukschat/ukschat/internal/db"
	"github.com/ukschat/ukschat/internal/models"
	"gorm.io/gorm"
)

// Activation windows in days.
const (
	DefaultWindowDays = 30
	SeedWindowDays    = 365
)

var (
	// ErrNoActiveSubscription is returned when the user has no active row.
	ErrNoActiveSubscription = errors.New("no active subscription")
	// ErrUserNotFound is returned when activating for an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrPlanNotFound is returned when activating an unknown plan.
	ErrPlanNotFound = errors.New("plan not found")
)

// Observer is notified after a subscription is activated.
type Observer interface {
	SubscriptionActivated(plan *models.Plan)
}

// Service manages subscription rows.
type Service struct {
	db       *gorm.DB
	nowFn    func() time.Time
	observer Observer
}

// NewService constructs a subscription service.
func NewService(conn *gorm.DB) *Service {
	return &Service{
		db:    conn,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// WithObserver sets the activation observer.
func (s *Service) WithObserver(observer Observer) *Service {
	s.observer = observer
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(nowFn func() time.Time) *Service {
	if nowFn != nil {
		s.nowFn = nowFn
	}
	return s
}

// Now returns the service clock in UTC.
func (s *Service) Now() time.Time {
	return s.nowFn().UTC()
}

// Activate supersedes the user's active subscriptions with a new one for planID.
func (s *Service) Activate(ctx context.Context, userID, planID uint64, windowDays int) (*models.Subscription, error) {
	var created *models.Subscription
	var plan models.Plan
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errFind := tx.First(&plan, planID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrPlanNotFound
			}
			return fmt.Errorf("subscription: load plan: %w", errFind)
		}
		sub, errActivate := s.ActivateTx(ctx, tx, userID, &plan, windowDays)
		if errActivate != nil {
			return errActivate
		}
		created = sub
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	s.notify(&plan)
	return created, nil
}

// ActivateTx runs the expire-then-insert sequence inside an existing transaction.
// The user row is locked first so concurrent activations for the same user serialize.
// Callers running outside Activate are responsible for calling Notify after commit.
func (s *Service) ActivateTx(ctx context.Context, tx *gorm.DB, userID uint64, plan *models.Plan, windowDays int) (*models.Subscription, error) {
	if tx == nil || plan == nil {
		return nil, fmt.Errorf("subscription: nil transaction or plan")
	}
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	tx = tx.WithContext(ctx)

	var user models.User
	if errLock := db.ForUpdate(tx).Select("id").First(&user, userID).Error; errLock != nil {
		if errors.Is(errLock, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("subscription: lock user: %w", errLock)
	}

	now := s.Now()
	if errExpire := tx.Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Updates(map[string]any{
			"status":     models.SubscriptionStatusExpired,
			"updated_at": now,
		}).Error; errExpire != nil {
		return nil, fmt.Errorf("subscription: expire active: %w", errExpire)
	}

	sub := models.Subscription{
		UserID:     userID,
		PlanID:     plan.ID,
		Status:     models.SubscriptionStatusActive,
		StartDate:  now,
		EndDate:    now.AddDate(0, 0, windowDays),
		UsedTokens: 0,
		TokenQuota: plan.TokensPerMonth,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if errCreate := tx.Omit("User", "Plan").Create(&sub).Error; errCreate != nil {
		return nil, fmt.Errorf("subscription: create: %w", errCreate)
	}
	sub.Plan = *plan
	return &sub, nil
}

// Notify reports a committed activation to the observer.
func (s *Service) Notify(plan *models.Plan) {
	s.notify(plan)
}

func (s *Service) notify(plan *models.Plan) {
	if s.observer != nil && plan != nil {
		s.observer.SubscriptionActivated(plan)
	}
}

// Bootstrap creates a seed subscription when the exact (user, plan) pair has none.
// Unlike Activate it never expires other rows; it is meant for an empty ledger.
func (s *Service) Bootstrap(ctx context.Context, userID uint64, plan *models.Plan, windowDays int) (*models.Subscription, bool, error) {
	if plan == nil {
		return nil, false, ErrPlanNotFound
	}
	if windowDays <= 0 {
		windowDays = SeedWindowDays
	}
	conn := s.db.WithContext(ctx)

	var existing models.Subscription
	errFind := conn.Where("user_id = ? AND plan_id = ?", userID, plan.ID).First(&existing).Error
	if errFind == nil {
		return &existing, false, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("subscription: bootstrap lookup: %w", errFind)
	}

	now := s.Now()
	sub := models.Subscription{
		UserID:     userID,
		PlanID:     plan.ID,
		Status:     models.SubscriptionStatusActive,
		StartDate:  now,
		EndDate:    now.AddDate(0, 0, windowDays),
		TokenQuota: plan.TokensPerMonth,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if errCreate := conn.Omit("User", "Plan").Create(&sub).Error; errCreate != nil {
		return nil, false, fmt.Errorf("subscription: bootstrap create: %w", errCreate)
	}
	return &sub, true, nil
}

// Current returns the user's newest active subscription with its plan.
func (s *Service) Current(ctx context.Context, userID uint64) (*models.Subscription, error) {
	return CurrentTx(s.db.WithContext(ctx), userID)
}

// CurrentTx is Current bound to an existing connection or transaction.
func CurrentTx(conn *gorm.DB, userID uint64) (*models.Subscription, error) {
	var sub models.Subscription
	if errFind := conn.
		Preload("Plan").
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Order("start_date DESC").
		Order("id DESC").
		First(&sub).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("subscription: current: %w", errFind)
	}
	return &sub, nil
}

// Cancel moves every active subscription of the user to cancelled.
func (s *Service) Cancel(ctx context.Context, userID uint64) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Updates(map[string]any{
			"status":     models.SubscriptionStatusCancelled,
			"updated_at": s.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("subscription: cancel: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, ErrNoActiveSubscription
	}
	return res.RowsAffected, nil
}

// ActiveCount returns the number of active rows for the user.
func (s *Service) ActiveCount(ctx context.Context, userID uint64) (int64, error) {
	var count int64
	if errCount := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Count(&count).Error; errCount != nil {
		return 0, fmt.Errorf("subscription: count active: %w", errCount)
	}
	return count, nil
}
