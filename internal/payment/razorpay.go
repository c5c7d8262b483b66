package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/ukschat/ukschat/internal/config"
)

// RazorpayGateway is the domestic gateway backed by the Razorpay Orders API.
type RazorpayGateway struct {
	client    *razorpay.Client
	keyID     string
	keySecret string
}

// NewRazorpayGateway constructs a Razorpay gateway from cfg.
func NewRazorpayGateway(cfg config.RazorpayConfig) *RazorpayGateway {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	return &RazorpayGateway{
		client:    razorpay.NewClient(keyID, keySecret),
		keyID:     keyID,
		keySecret: keySecret,
	}
}

// KeyID returns the public key handed to the checkout widget.
func (g *RazorpayGateway) KeyID() string {
	return g.keyID
}

// CreateOrder creates an auto-captured order for amountMinor.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (Order, error) {
	if g.keyID == "" || g.keySecret == "" {
		return Order{}, errors.New("razorpay: gateway not configured")
	}
	if errCtx := ctx.Err(); errCtx != nil {
		return Order{}, errCtx
	}
	body, err := g.client.Order.Create(map[string]interface{}{
		"amount":          amountMinor,
		"currency":        currency,
		"receipt":         receipt,
		"payment_capture": 1,
	}, nil)
	if err != nil {
		return Order{}, fmt.Errorf("razorpay: create order: %w", err)
	}
	id, _ := body["id"].(string)
	if id == "" {
		return Order{}, errors.New("razorpay: order response missing id")
	}
	return Order{ID: id, Amount: amountMinor, Currency: currency, Raw: body}, nil
}

// VerifySignature checks the checkout signature over "order_id|payment_id".
func (g *RazorpayGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return VerifyRazorpaySignature(g.keySecret, orderID, paymentID, signature)
}

// VerifyRazorpaySignature computes the HMAC-SHA256 checkout signature and compares it in constant time.
func VerifyRazorpaySignature(secret, orderID, paymentID, signature string) bool {
	if secret == "" || orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	expected := SignRazorpay(secret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// SignRazorpay returns the hex signature Razorpay attaches to a checkout.
func SignRazorpay(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
