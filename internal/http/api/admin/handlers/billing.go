package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ukschat/ukschat/internal/http/api/middleware"
	"github.com/ukschat/ukschat/internal/payment"
	"github.com/ukschat/ukschat/internal/usage"
)

// BillingHandler serves admin payment and usage reports.
type BillingHandler struct {
	payments *payment.Service
	gate     *usage.Gate
}

// NewBillingHandler constructs a BillingHandler.
func NewBillingHandler(payments *payment.Service, gate *usage.Gate) *BillingHandler {
	return &BillingHandler{payments: payments, gate: gate}
}

// Payments lists payments newest first with user email and plan name.
// The total matching count is returned in X-Total-Count.
func (h *BillingHandler) Payments(c *gin.Context) {
	filter := payment.ListFilter{
		Status:  c.Query("status"),
		Gateway: c.Query("gateway"),
		Email:   c.Query("email"),
	}
	if limitQ := strings.TrimSpace(c.Query("limit")); limitQ != "" {
		limit, errLimit := strconv.Atoi(limitQ)
		if errLimit != nil || limit < 0 {
			middleware.AbortWithError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if offsetQ := strings.TrimSpace(c.Query("offset")); offsetQ != "" {
		offset, errOffset := strconv.Atoi(offsetQ)
		if errOffset != nil || offset < 0 {
			middleware.AbortWithError(c, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	rows, total, errList := h.payments.List(c.Request.Context(), filter)
	if errList != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "list payments failed")
		return
	}
	c.Header("X-Total-Count", strconv.FormatInt(total, 10))
	c.JSON(http.StatusOK, rows)
}

// UsageSummary returns settled revenue and the heaviest users.
func (h *BillingHandler) UsageSummary(c *gin.Context) {
	topN := 10
	if topQ := strings.TrimSpace(c.Query("top")); topQ != "" {
		parsed, errTop := strconv.Atoi(topQ)
		if errTop != nil || parsed <= 0 {
			middleware.AbortWithError(c, http.StatusBadRequest, "invalid top")
			return
		}
		topN = parsed
	}
	summary, errSummary := h.gate.Summarize(c.Request.Context(), topN)
	if errSummary != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "usage summary failed")
		return
	}
	c.JSON(http.StatusOK, summary)
}
