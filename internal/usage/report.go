package usage

import (
	"context"
	"fmt"

	"github.com/ukschat/ukschat/internal/models"
)

// TopUser is one row of the heaviest-usage ranking.
type TopUser struct {
	UserID uint64 `json:"user_id"`
	Email  string `json:"email"`
	Tokens int64  `json:"tokens"`
}

// Revenue is the settled payment total for one currency.
type Revenue struct {
	Currency string  `json:"currency"`
	Total    float64 `json:"total"`
}

// Summary aggregates revenue and usage for the admin dashboard.
type Summary struct {
	TotalRevenue float64   `json:"total_revenue"`
	Revenue      []Revenue `json:"revenue_by_currency"`
	TotalTokens  int64     `json:"total_tokens"`
	TopUsers     []TopUser `json:"top_users"`
}

// Summarize returns settled revenue and the top consumers by logged usage.
func (g *Gate) Summarize(ctx context.Context, topN int) (Summary, error) {
	if topN <= 0 {
		topN = 5
	}
	conn := g.db.WithContext(ctx)
	summary := Summary{Revenue: []Revenue{}, TopUsers: []TopUser{}}

	if errRevenue := conn.Model(&models.Payment{}).
		Select("currency, COALESCE(SUM(amount), 0) AS total").
		Where("status = ?", models.PaymentStatusSuccess).
		Group("currency").
		Order("currency ASC").
		Scan(&summary.Revenue).Error; errRevenue != nil {
		return Summary{}, fmt.Errorf("usage: revenue: %w", errRevenue)
	}
	for _, row := range summary.Revenue {
		summary.TotalRevenue += row.Total
	}

	if errTokens := conn.Model(&models.UsageLog{}).
		Select("COALESCE(SUM(tokens_used), 0)").
		Scan(&summary.TotalTokens).Error; errTokens != nil {
		return Summary{}, fmt.Errorf("usage: total tokens: %w", errTokens)
	}

	if errTop := conn.Model(&models.UsageLog{}).
		Select("usage_logs.user_id AS user_id, users.email AS email, SUM(usage_logs.tokens_used) AS tokens").
		Joins("JOIN users ON users.id = usage_logs.user_id").
		Group("usage_logs.user_id, users.email").
		Order("tokens DESC").
		Order("usage_logs.user_id ASC").
		Limit(topN).
		Scan(&summary.TopUsers).Error; errTop != nil {
		return Summary{}, fmt.Errorf("usage: top users: %w", errTop)
	}
	return summary, nil
}
