package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
	"github.com/ukschat/ukschat/internal/config"
)

// Stripe event types handled by the webhook.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
)

// StripeGateway is the international gateway backed by Stripe Checkout.
type StripeGateway struct {
	api           *client.API
	configured    bool
	webhookSecret string
}

// NewStripeGateway constructs a Stripe gateway from cfg.
func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	key := strings.TrimSpace(cfg.SecretKey)
	api := &client.API{}
	api.Init(key, nil)
	return &StripeGateway{
		api:           api,
		configured:    key != "",
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
	}
}

// CreateCheckoutSession creates a one-time card payment session.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if !g.configured {
		return CheckoutSession{}, errors.New("stripe: gateway not configured")
	}
	productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(req.PlanName),
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		productData.Description = stripe.String(desc)
	}
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(strings.ToLower(req.Currency)),
					ProductData: productData,
					UnitAmount:  stripe.Int64(req.AmountMinor),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.Reference != "" {
		params.ClientReferenceID = stripe.String(req.Reference)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// SessionStatus retrieves a checkout session and reports whether it is paid.
func (g *StripeGateway) SessionStatus(ctx context.Context, sessionID string) (SessionStatus, error) {
	if !g.configured {
		return SessionStatus{}, errors.New("stripe: gateway not configured")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return SessionStatus{}, fmt.Errorf("stripe: get checkout session: %w", err)
	}
	return statusFromSession(sess), nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes checkout events.
func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if g.webhookSecret == "" {
		return WebhookEvent{}, errors.New("stripe: webhook secret not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	switch out.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded:
		var sess stripe.CheckoutSession
		if errUnmarshal := json.Unmarshal(event.Data.Raw, &sess); errUnmarshal != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode session: %w", errUnmarshal)
		}
		status := statusFromSession(&sess)
		out.Session = &status
	}
	return out, nil
}

func statusFromSession(sess *stripe.CheckoutSession) SessionStatus {
	status := SessionStatus{
		ID:       sess.ID,
		Paid:     sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Metadata: sess.Metadata,
	}
	if sess.PaymentIntent != nil {
		status.PaymentIntentID = sess.PaymentIntent.ID
	}
	return status
}
