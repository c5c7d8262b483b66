package payment

import (
	"context"
	"math"
)

// Order is a domestic gateway order.
type Order struct {
	ID       string
	Amount   int64
	Currency string
	Raw      map[string]any
}

// DomesticGateway creates orders and verifies checkout signatures.
type DomesticGateway interface {
	KeyID() string
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (Order, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

// CheckoutRequest describes a one-off international checkout.
type CheckoutRequest struct {
	PlanName    string
	Description string
	AmountMinor int64
	Currency    string
	SuccessURL  string
	CancelURL   string
	Reference   string
	Metadata    map[string]string
}

// CheckoutSession is the gateway's hosted checkout.
type CheckoutSession struct {
	ID  string
	URL string
}

// SessionStatus is the settlement state reported for a checkout session.
type SessionStatus struct {
	ID              string
	Paid            bool
	PaymentIntentID string
	Metadata        map[string]string
}

// WebhookEvent is a verified gateway notification.
type WebhookEvent struct {
	ID      string
	Type    string
	Session *SessionStatus
}

// InternationalGateway creates hosted checkout sessions and reports their state.
type InternationalGateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	SessionStatus(ctx context.Context, sessionID string) (SessionStatus, error)
	ParseWebhook(payload []byte, signatureHeader string) (WebhookEvent, error)
}

// MinorUnits converts a major-unit price to minor units, raised to floor.
// A zero price is charged at the gateway minimum rather than rejected.
func MinorUnits(price float64, floor int64) int64 {
	amount := int64(math.Round(price * 100))
	if amount < floor {
		return floor
	}
	return amount
}
