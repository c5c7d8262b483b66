// Package usage implements the metering gate in front of every chat turn.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ukschat/ukschat/internal/models"
	"github.com/ukschat/ukschat/internal/subscription"
	"gorm.io/gorm"
)

// Reason explains why the gate denied a request.
type Reason string

// Denial reasons.
const (
	ReasonNone           Reason = ""
	ReasonNoSubscription Reason = "no_subscription"
	ReasonQuotaExceeded  Reason = "quota_exceeded"
	ReasonExpired        Reason = "expired"
)

// DefaultCost is the quota charged per chat turn.
const DefaultCost = 1

// Message returns the user-facing text for the reason.
func (r Reason) Message() string {
	switch r {
	case ReasonNoSubscription:
		return "No active subscription. Please subscribe to a plan."
	case ReasonQuotaExceeded:
		return "Token quota exceeded. Please upgrade your plan."
	case ReasonExpired:
		return "Subscription expired. Please renew your plan."
	default:
		return ""
	}
}

// DeniedError is returned when the gate refuses a request.
type DeniedError struct {
	Reason Reason
}

func (e *DeniedError) Error() string {
	return "usage denied: " + string(e.Reason)
}

// IsDenied reports whether err is a gate denial and returns its reason.
func IsDenied(err error) (Reason, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied.Reason, true
	}
	return ReasonNone, false
}

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed      bool
	Reason       Reason
	Subscription *models.Subscription
}

// Err returns a DeniedError for denied decisions and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Reason: d.Reason}
}

// Recorder observes gate outcomes.
type Recorder interface {
	UsageDenied(reason string)
	UsageConsumed(tokens int)
}

// Gate checks and debits subscription quota.
type Gate struct {
	db       *gorm.DB
	nowFn    func() time.Time
	recorder Recorder
}

// NewGate constructs a metering gate.
func NewGate(db *gorm.DB) *Gate {
	return &Gate{
		db:    db,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// WithRecorder sets the outcome recorder.
func (g *Gate) WithRecorder(recorder Recorder) *Gate {
	g.recorder = recorder
	return g
}

// WithClock overrides the time source.
func (g *Gate) WithClock(nowFn func() time.Time) *Gate {
	if nowFn != nil {
		g.nowFn = nowFn
	}
	return g
}

// Check decides whether the user may spend cost units right now.
// The request that brings usage up to the quota is allowed; the next is denied.
// Besides ReasonNoSubscription and ReasonQuotaExceeded, an active subscription
// whose end_date has passed is denied with ReasonExpired, which callers must
// not report as quota exhaustion.
func (g *Gate) Check(ctx context.Context, userID uint64, cost int) (Decision, error) {
	return g.check(g.db.WithContext(ctx), userID, cost)
}

func (g *Gate) check(conn *gorm.DB, userID uint64, cost int) (Decision, error) {
	if cost <= 0 {
		cost = DefaultCost
	}
	sub, errCurrent := subscription.CurrentTx(conn, userID)
	if errCurrent != nil {
		if errors.Is(errCurrent, subscription.ErrNoActiveSubscription) {
			return g.deny(ReasonNoSubscription, nil), nil
		}
		return Decision{}, errCurrent
	}
	if sub.IsLapsed(g.nowFn()) {
		return g.deny(ReasonExpired, sub), nil
	}
	if sub.UsedTokens >= sub.TokenQuota {
		return g.deny(ReasonQuotaExceeded, sub), nil
	}
	return Decision{Allowed: true, Subscription: sub}, nil
}

func (g *Gate) deny(reason Reason, sub *models.Subscription) Decision {
	if g.recorder != nil {
		g.recorder.UsageDenied(string(reason))
	}
	return Decision{Allowed: false, Reason: reason, Subscription: sub}
}

// Consume debits tokens from the subscription inside tx and appends a usage log row.
// The increment only applies while the row is still active and under quota, so
// concurrent requests that all passed Check cannot push usage past the quota.
func (g *Gate) Consume(ctx context.Context, tx *gorm.DB, subscriptionID, userID uint64, tokens int) error {
	if tokens <= 0 {
		tokens = DefaultCost
	}
	if tx == nil {
		tx = g.db
	}
	tx = tx.WithContext(ctx)
	now := g.nowFn()

	res := tx.Model(&models.Subscription{}).
		Where("id = ? AND user_id = ? AND status = ?", subscriptionID, userID, models.SubscriptionStatusActive).
		Where("used_tokens < token_quota").
		Updates(map[string]any{
			"used_tokens": gorm.Expr("used_tokens + ?", tokens),
			"updated_at":  now,
		})
	if res.Error != nil {
		return fmt.Errorf("usage: consume: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return g.deny(ReasonQuotaExceeded, nil).Err()
	}

	entry := models.UsageLog{
		UserID:         userID,
		SubscriptionID: subscriptionID,
		TokensUsed:     tokens,
		CreatedAt:      now,
	}
	if errCreate := tx.Omit("User").Create(&entry).Error; errCreate != nil {
		return fmt.Errorf("usage: append log: %w", errCreate)
	}
	if g.recorder != nil {
		g.recorder.UsageConsumed(tokens)
	}
	return nil
}

// CheckAndConsume checks the gate and debits cost in one transaction.
func (g *Gate) CheckAndConsume(ctx context.Context, userID uint64, cost int) (Decision, error) {
	var decision Decision
	errTx := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, errCheck := g.check(tx, userID, cost)
		if errCheck != nil {
			return errCheck
		}
		decision = d
		if !d.Allowed {
			return nil
		}
		if errConsume := g.Consume(ctx, tx, d.Subscription.ID, userID, cost); errConsume != nil {
			if reason, ok := IsDenied(errConsume); ok {
				decision = Decision{Allowed: false, Reason: reason, Subscription: d.Subscription}
				return nil
			}
			return errConsume
		}
		return nil
	})
	if errTx != nil {
		return Decision{}, errTx
	}
	return decision, nil
}
