// Package payment creates gateway payments and reconciles their settlement
// into subscription activations.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukschat/ukschat/internal/db"
	"github.com/ukschat/ukschat/internal/models"
	"github.com/ukschat/ukschat/internal/subscription"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrPlanNotFound is returned when the plan is unknown or not offered.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrPaymentNotFound is returned when no payment matches.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrInvalidSignature is returned when a gateway signature does not verify.
	ErrInvalidSignature = errors.New("invalid payment signature")
	// ErrCurrencyMismatch is returned when a plan is bought through the wrong gateway.
	ErrCurrencyMismatch = errors.New("plan currency does not match gateway")
	// ErrNotSettled is returned when the gateway has not confirmed payment.
	ErrNotSettled = errors.New("payment not completed")
	// ErrInvoiceNotReady is returned when no invoice has been rendered yet.
	ErrInvoiceNotReady = errors.New("invoice not available")
	// ErrGatewayFailure wraps gateway call failures.
	ErrGatewayFailure = errors.New("payment gateway error")
)

// Renderer produces invoice artifacts for settled payments.
type Renderer interface {
	Render(payment *models.Payment, user *models.User, plan *models.Plan) (name string, path string, err error)
	Path(name string) string
}

// Notifier delivers invoices to users.
type Notifier interface {
	SendInvoice(ctx context.Context, email, attachmentPath string) error
}

// Recorder observes payment lifecycle events.
type Recorder interface {
	PaymentCreated(gateway string)
	PaymentSettled(gateway string)
}

// Options configure the payment service.
type Options struct {
	// MinAmount is the domestic minimum charge in minor units.
	MinAmount  int64
	SuccessURL string
	CancelURL  string
}

// Service creates and settles payments.
type Service struct {
	db            *gorm.DB
	subs          *subscription.Service
	domestic      DomesticGateway
	international InternationalGateway
	renderer      Renderer
	notifier      Notifier
	recorder      Recorder
	opts          Options
}

// NewService constructs a payment service. Renderer and notifier may be nil.
func NewService(conn *gorm.DB, subs *subscription.Service, domestic DomesticGateway, international InternationalGateway, opts Options) *Service {
	if opts.MinAmount <= 0 {
		opts.MinAmount = 100
	}
	return &Service{
		db:            conn,
		subs:          subs,
		domestic:      domestic,
		international: international,
		opts:          opts,
	}
}

// WithInvoices sets the invoice renderer and notifier.
func (s *Service) WithInvoices(renderer Renderer, notifier Notifier) *Service {
	s.renderer = renderer
	s.notifier = notifier
	return s
}

// WithRecorder sets the lifecycle recorder.
func (s *Service) WithRecorder(recorder Recorder) *Service {
	s.recorder = recorder
	return s
}

// DomesticOrder is returned to the client to open the checkout widget.
type DomesticOrder struct {
	OrderID   string `json:"order_id"`
	Key       string `json:"key"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PlanName  string `json:"plan_name"`
	PaymentID uint64 `json:"payment_id"`
}

// InternationalCheckout is returned to the client to redirect to the hosted page.
type InternationalCheckout struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
	PaymentID   uint64 `json:"payment_id"`
}

// CreateDomesticOrder opens a gateway order for an INR plan and records it as created.
func (s *Service) CreateDomesticOrder(ctx context.Context, userID, planID uint64) (*DomesticOrder, error) {
	plan, errPlan := s.activePlan(ctx, planID)
	if errPlan != nil {
		return nil, errPlan
	}
	if plan.Currency != models.CurrencyINR {
		return nil, fmt.Errorf("%w: invalid INR plan", ErrCurrencyMismatch)
	}

	amount := MinorUnits(plan.Price, s.opts.MinAmount)
	order, errOrder := s.domestic.CreateOrder(ctx, amount, plan.Currency, "rcpt_"+uuid.NewString()[:12])
	if errOrder != nil {
		log.WithError(errOrder).WithField("plan_id", plan.ID).Warn("payment: create domestic order failed")
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, errOrder)
	}

	payment := models.Payment{
		UserID:         userID,
		PlanID:         plan.ID,
		Gateway:        models.GatewayRazorpay,
		Amount:         plan.Price,
		Currency:       plan.Currency,
		Status:         models.PaymentStatusCreated,
		TransactionID:  order.ID,
		GatewayPayload: encodePayload(order.Raw),
	}
	if errCreate := s.db.WithContext(ctx).Omit("User", "Plan").Create(&payment).Error; errCreate != nil {
		return nil, fmt.Errorf("payment: store order: %w", errCreate)
	}
	s.recordCreated(models.GatewayRazorpay)

	return &DomesticOrder{
		OrderID:   order.ID,
		Key:       s.domestic.KeyID(),
		Amount:    amount,
		Currency:  plan.Currency,
		PlanName:  plan.Name,
		PaymentID: payment.ID,
	}, nil
}

// VerifyDomestic checks the checkout signature and settles the matching order.
// An invalid signature leaves the payment untouched.
func (s *Service) VerifyDomestic(ctx context.Context, userID uint64, orderID, paymentID, signature string) (*models.Payment, error) {
	orderID = strings.TrimSpace(orderID)
	paymentID = strings.TrimSpace(paymentID)
	if !s.domestic.VerifySignature(orderID, paymentID, signature) {
		return nil, ErrInvalidSignature
	}

	var payment models.Payment
	if errFind := s.db.WithContext(ctx).
		Where("transaction_id = ? AND user_id = ? AND gateway = ?", orderID, userID, models.GatewayRazorpay).
		First(&payment).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment: find order: %w", errFind)
	}
	return s.settle(ctx, payment.ID, paymentID)
}

// CreateInternationalCheckout opens a hosted checkout for a USD plan and records it as pending.
func (s *Service) CreateInternationalCheckout(ctx context.Context, userID, planID uint64) (*InternationalCheckout, error) {
	plan, errPlan := s.activePlan(ctx, planID)
	if errPlan != nil {
		return nil, errPlan
	}
	if plan.Currency != models.CurrencyUSD {
		return nil, fmt.Errorf("%w: invalid USD plan", ErrCurrencyMismatch)
	}

	userRef := strconv.FormatUint(userID, 10)
	planRef := strconv.FormatUint(plan.ID, 10)
	session, errSession := s.international.CreateCheckoutSession(ctx, CheckoutRequest{
		PlanName:    plan.Name,
		Description: plan.Description,
		AmountMinor: MinorUnits(plan.Price, 0),
		Currency:    plan.Currency,
		SuccessURL:  s.opts.SuccessURL,
		CancelURL:   s.opts.CancelURL,
		Reference:   userRef,
		Metadata:    map[string]string{"user_id": userRef, "plan_id": planRef},
	})
	if errSession != nil {
		log.WithError(errSession).WithField("plan_id", plan.ID).Warn("payment: create checkout session failed")
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, errSession)
	}

	payment := models.Payment{
		UserID:        userID,
		PlanID:        plan.ID,
		Gateway:       models.GatewayStripe,
		Amount:        plan.Price,
		Currency:      plan.Currency,
		Status:        models.PaymentStatusPending,
		TransactionID: session.ID,
		GatewayPayload: encodePayload(map[string]any{
			"session_id": session.ID,
			"url":        session.URL,
		}),
	}
	if errCreate := s.db.WithContext(ctx).Omit("User", "Plan").Create(&payment).Error; errCreate != nil {
		return nil, fmt.Errorf("payment: store checkout: %w", errCreate)
	}
	s.recordCreated(models.GatewayStripe)

	return &InternationalCheckout{CheckoutURL: session.URL, SessionID: session.ID, PaymentID: payment.ID}, nil
}

// ConfirmInternational marks the pending checkout session as settled and activates
// its plan. Callers must have confirmed settlement with the gateway first.
func (s *Service) ConfirmInternational(ctx context.Context, sessionID, externalID string) (*models.Payment, error) {
	var payment models.Payment
	if errFind := s.db.WithContext(ctx).
		Where("transaction_id = ? AND gateway = ?", strings.TrimSpace(sessionID), models.GatewayStripe).
		First(&payment).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment: find session: %w", errFind)
	}
	return s.settle(ctx, payment.ID, externalID)
}

// ConfirmCheckout asks the gateway whether the user's session is paid and settles it.
func (s *Service) ConfirmCheckout(ctx context.Context, userID uint64, sessionID string) (*models.Payment, error) {
	sessionID = strings.TrimSpace(sessionID)
	var payment models.Payment
	if errFind := s.db.WithContext(ctx).
		Where("transaction_id = ? AND user_id = ? AND gateway = ?", sessionID, userID, models.GatewayStripe).
		First(&payment).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment: find session: %w", errFind)
	}
	if payment.IsSettled() {
		return &payment, nil
	}
	status, errStatus := s.international.SessionStatus(ctx, sessionID)
	if errStatus != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, errStatus)
	}
	if !status.Paid {
		return nil, ErrNotSettled
	}
	return s.settle(ctx, payment.ID, status.PaymentIntentID)
}

// HandleWebhook verifies a gateway notification and settles paid sessions.
// Events for other types or unknown sessions are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	event, errParse := s.international.ParseWebhook(payload, signatureHeader)
	if errParse != nil {
		return errParse
	}
	if event.Session == nil {
		log.WithField("type", event.Type).Debug("payment: webhook event ignored")
		return nil
	}
	if !event.Session.Paid {
		log.WithField("session_id", event.Session.ID).Info("payment: webhook session not paid yet")
		return nil
	}
	_, errConfirm := s.ConfirmInternational(ctx, event.Session.ID, event.Session.PaymentIntentID)
	if errors.Is(errConfirm, ErrPaymentNotFound) {
		log.WithField("session_id", event.Session.ID).Warn("payment: webhook for unknown session")
		return nil
	}
	return errConfirm
}

// settle marks the payment successful and activates its plan in one transaction.
// Settling an already successful payment returns it without a second activation.
func (s *Service) settle(ctx context.Context, paymentID uint64, externalID string) (*models.Payment, error) {
	var (
		payment models.Payment
		plan    models.Plan
		already bool
	)
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errLock := db.ForUpdate(tx).First(&payment, paymentID).Error; errLock != nil {
			if errors.Is(errLock, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return fmt.Errorf("payment: lock: %w", errLock)
		}
		if payment.IsSettled() {
			already = true
			return nil
		}
		if errPlan := tx.First(&plan, payment.PlanID).Error; errPlan != nil {
			if errors.Is(errPlan, gorm.ErrRecordNotFound) {
				return ErrPlanNotFound
			}
			return fmt.Errorf("payment: load plan: %w", errPlan)
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":     models.PaymentStatusSuccess,
			"settled_at": now,
			"updated_at": now,
		}
		if externalID = strings.TrimSpace(externalID); externalID != "" {
			updates["external_payment_id"] = externalID
			payment.ExternalPaymentID = externalID
		}
		if errUpdate := tx.Model(&models.Payment{}).Where("id = ?", payment.ID).Updates(updates).Error; errUpdate != nil {
			return fmt.Errorf("payment: mark success: %w", errUpdate)
		}
		payment.Status = models.PaymentStatusSuccess
		payment.SettledAt = &now
		payment.UpdatedAt = now

		if _, errActivate := s.subs.ActivateTx(ctx, tx, payment.UserID, &plan, subscription.DefaultWindowDays); errActivate != nil {
			return errActivate
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	if already {
		return &payment, nil
	}

	s.subs.Notify(&plan)
	if s.recorder != nil {
		s.recorder.PaymentSettled(payment.Gateway)
	}
	log.WithFields(log.Fields{
		"payment_id": payment.ID,
		"user_id":    payment.UserID,
		"plan_id":    plan.ID,
		"gateway":    payment.Gateway,
	}).Info("payment settled")

	s.deliverInvoice(ctx, &payment, &plan)
	return &payment, nil
}

// deliverInvoice renders and mails the invoice. Failures are logged only.
func (s *Service) deliverInvoice(ctx context.Context, payment *models.Payment, plan *models.Plan) {
	if s.renderer == nil {
		return
	}
	var user models.User
	if errUser := s.db.WithContext(ctx).First(&user, payment.UserID).Error; errUser != nil {
		log.WithError(errUser).WithField("payment_id", payment.ID).Warn("payment: load user for invoice failed")
		return
	}
	name, path, errRender := s.renderer.Render(payment, &user, plan)
	if errRender != nil {
		log.WithError(errRender).WithField("payment_id", payment.ID).Warn("payment: render invoice failed")
		return
	}
	if errUpdate := s.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", payment.ID).
		Update("invoice_filename", name).Error; errUpdate != nil {
		log.WithError(errUpdate).WithField("payment_id", payment.ID).Warn("payment: store invoice name failed")
		return
	}
	payment.InvoiceFilename = name

	if s.notifier == nil {
		return
	}
	if errSend := s.notifier.SendInvoice(ctx, user.Email, path); errSend != nil {
		log.WithError(errSend).WithField("payment_id", payment.ID).Warn("payment: email invoice failed")
	}
}

// InvoicePath returns the invoice file for a settled payment owned by userID.
func (s *Service) InvoicePath(ctx context.Context, userID, paymentID uint64) (string, error) {
	if s.renderer == nil {
		return "", ErrInvoiceNotReady
	}
	var payment models.Payment
	if errFind := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", paymentID, userID).
		First(&payment).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return "", ErrPaymentNotFound
		}
		return "", fmt.Errorf("payment: find invoice: %w", errFind)
	}
	if !payment.IsSettled() || payment.InvoiceFilename == "" {
		return "", ErrInvoiceNotReady
	}
	path := s.renderer.Path(payment.InvoiceFilename)
	if _, errStat := os.Stat(path); errStat != nil {
		return "", ErrInvoiceNotReady
	}
	return path, nil
}

// Get loads a payment by ID.
func (s *Service) Get(ctx context.Context, paymentID uint64) (*models.Payment, error) {
	var payment models.Payment
	if errFind := s.db.WithContext(ctx).First(&payment, paymentID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment: get: %w", errFind)
	}
	return &payment, nil
}

func (s *Service) activePlan(ctx context.Context, planID uint64) (*models.Plan, error) {
	var plan models.Plan
	if errFind := s.db.WithContext(ctx).First(&plan, planID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("payment: load plan: %w", errFind)
	}
	if !plan.IsActive {
		return nil, ErrPlanNotFound
	}
	return &plan, nil
}

func (s *Service) recordCreated(gateway string) {
	if s.recorder != nil {
		s.recorder.PaymentCreated(gateway)
	}
}

func encodePayload(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
