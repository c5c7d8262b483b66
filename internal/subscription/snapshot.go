package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Snapshot is the user-facing view of the current subscription.
type Snapshot struct {
	Active          bool       `json:"active"`
	SubscriptionID  uint64     `json:"subscription_id,omitempty"`
	PlanID          uint64     `json:"plan_id,omitempty"`
	PlanName        string     `json:"plan_name,omitempty"`
	Price           float64    `json:"price,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	TokensPerMonth  int        `json:"tokens_per_month,omitempty"`
	UsedTokens      int        `json:"used_tokens"`
	RemainingTokens int        `json:"remaining_tokens"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	IsExpired       bool       `json:"is_expired"`
}

// MarshalJSON renders an inactive snapshot as {"active":false}.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if !s.Active {
		return []byte(`{"active":false}`), nil
	}
	type snapshot Snapshot
	return json.Marshal(snapshot(s))
}

// Snapshot returns the usage view of the user's current subscription.
// A user without an active subscription yields {Active: false}.
func (s *Service) Snapshot(ctx context.Context, userID uint64) (Snapshot, error) {
	sub, err := s.Current(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSubscription) {
			return Snapshot{Active: false}, nil
		}
		return Snapshot{}, err
	}
	start := sub.StartDate.UTC()
	end := sub.EndDate.UTC()
	return Snapshot{
		Active:          true,
		SubscriptionID:  sub.ID,
		PlanID:          sub.PlanID,
		PlanName:        sub.Plan.Name,
		Price:           sub.Plan.Price,
		Currency:        sub.Plan.Currency,
		TokensPerMonth:  sub.TokenQuota,
		UsedTokens:      sub.UsedTokens,
		RemainingTokens: sub.RemainingTokens(),
		StartDate:       &start,
		EndDate:         &end,
		IsExpired:       sub.IsLapsed(s.Now()),
	}, nil
}
