package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ukschat/ukschat/internal/http/api/middleware"
	"github.com/ukschat/ukschat/internal/subscription"
)

// SubscriptionHandler serves the user's subscription endpoints.
type SubscriptionHandler struct {
	subs *subscription.Service
}

// NewSubscriptionHandler constructs a SubscriptionHandler.
func NewSubscriptionHandler(subs *subscription.Service) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs}
}

// Me returns the current subscription snapshot.
func (h *SubscriptionHandler) Me(c *gin.Context) {
	snapshot, errSnapshot := h.subs.Snapshot(c.Request.Context(), middleware.UserID(c))
	if errSnapshot != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "load subscription failed")
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// Cancel cancels the active subscription.
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	if _, errCancel := h.subs.Cancel(c.Request.Context(), middleware.UserID(c)); errCancel != nil {
		if errors.Is(errCancel, subscription.ErrNoActiveSubscription) {
			middleware.AbortWithError(c, http.StatusNotFound, "No active subscription found")
			return
		}
		middleware.AbortWithError(c, http.StatusInternalServerError, "cancel subscription failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Subscription cancelled successfully"})
}
