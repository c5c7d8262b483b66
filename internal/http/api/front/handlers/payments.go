package handlers

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/ukschat/ukschat/internal/http/api/middleware"
	"github.com/ukschat/ukschat/internal/payment"
)

const maxWebhookBytes = 64 << 10

// PaymentHandler serves checkout, confirmation and invoice endpoints.
type PaymentHandler struct {
	payments *payment.Service
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(payments *payment.Service) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// CreateRazorpayOrder opens a domestic order for an INR plan.
func (h *PaymentHandler) CreateRazorpayOrder(c *gin.Context) {
	planID, ok := middleware.ParseID(c, "plan_id")
	if !ok {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid plan id")
		return
	}
	order, errOrder := h.payments.CreateDomesticOrder(c.Request.Context(), middleware.UserID(c), planID)
	if errOrder != nil {
		h.writeError(c, errOrder, "Invalid INR plan")
		return
	}
	c.JSON(http.StatusOK, order)
}

type razorpayVerifyRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
	// Short aliases accepted alongside the checkout widget's field names.
	ShortOrderID   string `json:"order_id"`
	ShortPaymentID string `json:"payment_id"`
	ShortSignature string `json:"signature"`
}

func (r razorpayVerifyRequest) fields() (string, string, string) {
	pick := func(a, b string) string {
		if strings.TrimSpace(a) != "" {
			return strings.TrimSpace(a)
		}
		return strings.TrimSpace(b)
	}
	return pick(r.OrderID, r.ShortOrderID), pick(r.PaymentID, r.ShortPaymentID), pick(r.Signature, r.ShortSignature)
}

// VerifyRazorpay verifies the checkout signature and activates the plan.
func (h *PaymentHandler) VerifyRazorpay(c *gin.Context) {
	var body razorpayVerifyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "Missing fields")
		return
	}
	orderID, paymentID, signature := body.fields()
	if orderID == "" || paymentID == "" || signature == "" {
		middleware.AbortWithError(c, http.StatusBadRequest, "Missing fields")
		return
	}

	settled, errVerify := h.payments.VerifyDomestic(c.Request.Context(), middleware.UserID(c), orderID, paymentID, signature)
	if errVerify != nil {
		h.writeError(c, errVerify, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Payment verified, subscription activated & invoice emailed",
		"payment_id": settled.ID,
		"status":     settled.Status,
	})
}

// CreateStripeCheckout opens a hosted checkout session for a USD plan.
func (h *PaymentHandler) CreateStripeCheckout(c *gin.Context) {
	planID, ok := middleware.ParseID(c, "plan_id")
	if !ok {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid plan id")
		return
	}
	checkout, errCheckout := h.payments.CreateInternationalCheckout(c.Request.Context(), middleware.UserID(c), planID)
	if errCheckout != nil {
		h.writeError(c, errCheckout, "Invalid USD plan")
		return
	}
	c.JSON(http.StatusOK, checkout)
}

type stripeConfirmRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// ConfirmStripe settles a checkout session the gateway reports as paid.
func (h *PaymentHandler) ConfirmStripe(c *gin.Context) {
	var body stripeConfirmRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "session_id is required")
		return
	}
	settled, errConfirm := h.payments.ConfirmCheckout(c.Request.Context(), middleware.UserID(c), body.SessionID)
	if errConfirm != nil {
		h.writeError(c, errConfirm, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Payment confirmed, subscription activated",
		"payment_id": settled.ID,
		"status":     settled.Status,
	})
}

// StripeWebhook receives signed gateway notifications.
func (h *PaymentHandler) StripeWebhook(c *gin.Context) {
	payload, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if errRead != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "read body failed")
		return
	}
	if errHandle := h.payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); errHandle != nil {
		if errors.Is(errHandle, payment.ErrInvalidSignature) {
			middleware.AbortWithError(c, http.StatusBadRequest, "Invalid signature")
			return
		}
		log.WithError(errHandle).Error("payment: webhook handling failed")
		middleware.AbortWithError(c, http.StatusInternalServerError, "webhook handling failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// DownloadInvoice streams the invoice PDF for a settled payment.
func (h *PaymentHandler) DownloadInvoice(c *gin.Context) {
	paymentID, ok := middleware.ParseID(c, "payment_id")
	if !ok {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid payment id")
		return
	}
	path, errPath := h.payments.InvoicePath(c.Request.Context(), middleware.UserID(c), paymentID)
	if errPath != nil {
		switch {
		case errors.Is(errPath, payment.ErrPaymentNotFound):
			middleware.AbortWithError(c, http.StatusNotFound, "Payment not found")
		case errors.Is(errPath, payment.ErrInvoiceNotReady):
			middleware.AbortWithError(c, http.StatusNotFound, "Invoice not ready yet")
		default:
			middleware.AbortWithError(c, http.StatusInternalServerError, "load invoice failed")
		}
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

// writeError maps payment errors to statuses. mismatchMessage overrides the currency mismatch text.
func (h *PaymentHandler) writeError(c *gin.Context, err error, mismatchMessage string) {
	switch {
	case errors.Is(err, payment.ErrCurrencyMismatch):
		if mismatchMessage == "" {
			mismatchMessage = "Invalid plan currency"
		}
		middleware.AbortWithError(c, http.StatusBadRequest, mismatchMessage)
	case errors.Is(err, payment.ErrPlanNotFound):
		middleware.AbortWithError(c, http.StatusNotFound, "Plan not found")
	case errors.Is(err, payment.ErrPaymentNotFound):
		middleware.AbortWithError(c, http.StatusNotFound, "Payment not found")
	case errors.Is(err, payment.ErrInvalidSignature):
		middleware.AbortWithError(c, http.StatusBadRequest, "Invalid signature")
	case errors.Is(err, payment.ErrNotSettled):
		middleware.AbortWithError(c, http.StatusConflict, "Payment not completed yet")
	case errors.Is(err, payment.ErrGatewayFailure):
		middleware.AbortWithError(c, http.StatusBadGateway, "Payment gateway unavailable")
	default:
		log.WithError(err).Error("payment: request failed")
		middleware.AbortWithError(c, http.StatusInternalServerError, "payment request failed")
	}
}
