package models

import "time"

// Currency codes accepted by the payment gateways.
const (
	// CurrencyINR is settled through the domestic gateway.
	CurrencyINR = "INR"
	// CurrencyUSD is settled through the international gateway.
	CurrencyUSD = "USD"
)

// Plan represents a subscription tier in the catalog.
type Plan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name        string  `gorm:"type:varchar(100);not null"`            // Plan name.
	Description string  `gorm:"type:text"`                             // Plan description.
	Price       float64 `gorm:"type:decimal(10,2);not null;default:0"` // Price per window.
	Currency    string  `gorm:"type:varchar(5);not null;default:INR"`  // ISO currency code.

	TokensPerMonth int `gorm:"not null"`           // Chat turns granted per window.
	RateLimit      int `gorm:"not null;default:0"` // Chat requests per minute (0 uses default).

	IsActive bool `gorm:"not null"` // Whether the plan is offered.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsFree reports whether the plan costs nothing.
func (p *Plan) IsFree() bool {
	return p != nil && p.Price <= 0
}
