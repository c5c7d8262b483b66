package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ukschat/ukschat/internal/db"
	"github.com/ukschat/ukschat/internal/models"
	"gorm.io/gorm"
)

// ListFilter narrows the admin payment listing.
type ListFilter struct {
	Status  string
	Gateway string
	Email   string
	Limit   int
	Offset  int
}

// PaymentRow is a payment joined with its user and plan for the admin view.
type PaymentRow struct {
	ID              uint64     `json:"id"`
	UserID          uint64     `json:"user_id"`
	UserEmail       string     `json:"user_email"`
	PlanID          uint64     `json:"plan_id"`
	PlanName        string     `json:"plan_name"`
	Gateway         string     `json:"gateway"`
	Amount          float64    `json:"amount"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	TransactionID   string     `json:"transaction_id"`
	InvoiceFilename string     `json:"invoice_filename"`
	SettledAt       *time.Time `json:"settled_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// List returns payments newest first with the total matching count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PaymentRow, int64, error) {
	q := s.db.WithContext(ctx).
		Model(&models.Payment{}).
		Joins("JOIN users ON users.id = payments.user_id").
		Joins("JOIN plans ON plans.id = payments.plan_id")
	if status := strings.TrimSpace(filter.Status); status != "" {
		q = q.Where("payments.status = ?", status)
	}
	if gateway := strings.TrimSpace(filter.Gateway); gateway != "" {
		q = q.Where("payments.gateway = ?", gateway)
	}
	if email := strings.TrimSpace(filter.Email); email != "" {
		pattern := db.NormalizeLikePattern(s.db, "%"+email+"%")
		q = q.Where(db.CaseInsensitiveLikeExpr(s.db, "users.email"), pattern)
	}

	q = q.Session(&gorm.Session{})

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		return nil, 0, fmt.Errorf("payment: count: %w", errCount)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows := make([]PaymentRow, 0)
	if errFind := q.Select(
		"payments.id AS id",
		"payments.user_id AS user_id",
		"users.email AS user_email",
		"payments.plan_id AS plan_id",
		"plans.name AS plan_name",
		"payments.gateway AS gateway",
		"payments.amount AS amount",
		"payments.currency AS currency",
		"payments.status AS status",
		"payments.transaction_id AS transaction_id",
		"payments.invoice_filename AS invoice_filename",
		"payments.settled_at AS settled_at",
		"payments.created_at AS created_at",
	).
		Order("payments.created_at DESC").
		Order("payments.id DESC").
		Limit(limit).
		Offset(offset).
		Scan(&rows).Error; errFind != nil {
		return nil, 0, fmt.Errorf("payment: list: %w", errFind)
	}
	return rows, total, nil
}
