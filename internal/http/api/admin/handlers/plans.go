package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/ukschat/ukschat/internal/catalog"
	"github.com/ukschat/ukschat/internal/http/api/middleware"
	"github.com/ukschat/ukschat/internal/models"
)

// PlanHandler manages admin CRUD endpoints for plans.
type PlanHandler struct {
	catalog *catalog.Service // Plan catalog service.
}

// NewPlanHandler constructs a plan handler.
func NewPlanHandler(catalogSvc *catalog.Service) *PlanHandler {
	return &PlanHandler{catalog: catalogSvc}
}

// createPlanRequest captures the payload for creating a plan.
type createPlanRequest struct {
	Name           string  `json:"name"`             // Plan name.
	Description    string  `json:"description"`      // Plan description.
	Price          float64 `json:"price"`            // Price per window.
	Currency       string  `json:"currency"`         // INR or USD.
	TokensPerMonth int     `json:"tokens_per_month"` // Chat turns per window.
	RateLimit      int     `json:"rate_limit"`       // Requests per minute, 0 uses default.
	IsActive       *bool   `json:"is_active"`        // Optional active flag.
}

// Create validates input and inserts a new plan.
func (h *PlanHandler) Create(c *gin.Context) {
	var body createPlanRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid json")
		return
	}

	isActive := true
	if body.IsActive != nil {
		isActive = *body.IsActive
	}
	currency := body.Currency
	if strings.TrimSpace(currency) == "" {
		currency = models.CurrencyINR
	}

	plan, errCreate := h.catalog.Create(c.Request.Context(), catalog.PlanInput{
		Name:           body.Name,
		Description:    body.Description,
		Price:          body.Price,
		Currency:       currency,
		TokensPerMonth: body.TokensPerMonth,
		RateLimit:      body.RateLimit,
		IsActive:       isActive,
	})
	if errCreate != nil {
		h.writeError(c, errCreate, "create plan failed")
		return
	}
	c.JSON(http.StatusCreated, formatPlan(plan))
}

// List returns every plan, including inactive ones.
func (h *PlanHandler) List(c *gin.Context) {
	rows, errList := h.catalog.List(c.Request.Context())
	if errList != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "list plans failed")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatPlan(&rows[i]))
	}
	c.JSON(http.StatusOK, out)
}

// Get fetches a plan by ID.
func (h *PlanHandler) Get(c *gin.Context) {
	id, ok := middleware.ParseID(c, "id")
	if !ok {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid id")
		return
	}
	plan, errGet := h.catalog.Get(c.Request.Context(), id)
	if errGet != nil {
		h.writeError(c, errGet, "query failed")
		return
	}
	c.JSON(http.StatusOK, formatPlan(plan))
}

// Update applies the fields present in the body. Absent fields stay unchanged.
func (h *PlanHandler) Update(c *gin.Context) {
	id, ok := middleware.ParseID(c, "id")
	if !ok {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid id")
		return
	}
	var patch catalog.PlanPatch
	if errBind := c.ShouldBindJSON(&patch); errBind != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid json")
		return
	}

	plan, errUpdate := h.catalog.Update(c.Request.Context(), id, patch)
	if errUpdate != nil {
		h.writeError(c, errUpdate, "update failed")
		return
	}
	c.JSON(http.StatusOK, formatPlan(plan))
}

// Toggle flips the plan's active flag.
func (h *PlanHandler) Toggle(c *gin.Context) {
	id, ok := middleware.ParseID(c, "id")
	if !ok {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid id")
		return
	}
	plan, errToggle := h.catalog.Toggle(c.Request.Context(), id)
	if errToggle != nil {
		h.writeError(c, errToggle, "update failed")
		return
	}
	c.JSON(http.StatusOK, formatPlan(plan))
}

// Delete removes a plan that nothing references.
func (h *PlanHandler) Delete(c *gin.Context) {
	id, ok := middleware.ParseID(c, "id")
	if !ok {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid id")
		return
	}
	if errDelete := h.catalog.Delete(c.Request.Context(), id); errDelete != nil {
		h.writeError(c, errDelete, "delete failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *PlanHandler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, catalog.ErrPlanNotFound):
		middleware.AbortWithError(c, http.StatusNotFound, "Plan not found")
	case errors.Is(err, catalog.ErrInvalidPlan):
		middleware.AbortWithError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrPlanInUse):
		middleware.AbortWithError(c, http.StatusConflict, err.Error())
	default:
		log.WithError(err).Error("admin plans: " + fallback)
		middleware.AbortWithError(c, http.StatusInternalServerError, fallback)
	}
}

// formatPlan converts a plan model into a response payload.
func formatPlan(p *models.Plan) gin.H {
	return gin.H{
		"id":               p.ID,
		"name":             p.Name,
		"description":      p.Description,
		"price":            p.Price,
		"currency":         p.Currency,
		"tokens_per_month": p.TokensPerMonth,
		"rate_limit":       p.RateLimit,
		"is_active":        p.IsActive,
		"created_at":       p.CreatedAt,
		"updated_at":       p.UpdatedAt,
	}
}
