package models

import (
	"time"

	"gorm.io/datatypes"
)

// Payment gateway identifiers.
const (
	// GatewayRazorpay is the domestic order-based gateway.
	GatewayRazorpay = "razorpay"
	// GatewayStripe is the international checkout-session gateway.
	GatewayStripe = "stripe"
)

// PaymentStatus represents the lifecycle state of a payment attempt.
type PaymentStatus string

// PaymentStatus constants define payment lifecycle states.
const (
	// PaymentStatusCreated marks an order created at the domestic gateway.
	PaymentStatusCreated PaymentStatus = "created"
	// PaymentStatusPending marks a checkout session awaiting settlement.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusSuccess marks a settled payment.
	PaymentStatusSuccess PaymentStatus = "success"
)

// Payment records one payment attempt against a gateway.
type Payment struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`                                // Paying user ID.
	User   User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"` // Paying user.

	PlanID uint64 `gorm:"not null;index"`    // Purchased plan ID.
	Plan   Plan   `gorm:"foreignKey:PlanID"` // Purchased plan.

	Gateway  string        `gorm:"type:varchar(20);not null;index"`           // Gateway identifier.
	Amount   float64       `gorm:"type:decimal(10,2);not null"`               // Charged amount in major units.
	Currency string        `gorm:"type:varchar(5);not null;default:INR"`      // ISO currency code.
	Status   PaymentStatus `gorm:"type:varchar(20);not null;default:pending"` // Lifecycle state.

	TransactionID     string `gorm:"type:varchar(100);not null;uniqueIndex"` // Gateway order or session ID.
	ExternalPaymentID string `gorm:"type:varchar(100)"`                      // Gateway payment reference after settlement.

	GatewayPayload datatypes.JSON `gorm:"type:jsonb"` // Raw gateway response for audits.

	InvoiceFilename string `gorm:"type:varchar(100)"` // Rendered invoice artifact name.

	SettledAt *time.Time // Settlement timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsSettled reports whether the payment reached success.
func (p *Payment) IsSettled() bool {
	return p != nil && p.Status == PaymentStatusSuccess
}
