package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ukschat/ukschat/internal/catalog"
	"github.com/ukschat/ukschat/internal/http/api/middleware"
	"github.com/ukschat/ukschat/internal/models"
)

// PlanFrontHandler serves the public plan listing.
type PlanFrontHandler struct {
	catalog *catalog.Service
}

// NewPlanFrontHandler constructs a PlanFrontHandler.
func NewPlanFrontHandler(catalogSvc *catalog.Service) *PlanFrontHandler {
	return &PlanFrontHandler{catalog: catalogSvc}
}

// List returns active plans, cheapest first.
func (h *PlanFrontHandler) List(c *gin.Context) {
	plans, errList := h.catalog.ListActive(c.Request.Context())
	if errList != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "list plans failed")
		return
	}
	out := make([]gin.H, 0, len(plans))
	for i := range plans {
		out = append(out, FormatPlan(&plans[i]))
	}
	c.JSON(http.StatusOK, out)
}

// FormatPlan renders a plan for API responses.
func FormatPlan(plan *models.Plan) gin.H {
	return gin.H{
		"id":               plan.ID,
		"name":             plan.Name,
		"description":      plan.Description,
		"price":            plan.Price,
		"currency":         plan.Currency,
		"tokens_per_month": plan.TokensPerMonth,
		"rate_limit":       plan.RateLimit,
		"is_active":        plan.IsActive,
		"created_at":       plan.CreatedAt,
		"updated_at":       plan.UpdatedAt,
	}
}
