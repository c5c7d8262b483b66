package admin

import (
	"github.com/gin-gonic/gin"
	"github.com/ukschat/ukschat/internal/catalog"
	"github.com/ukschat/ukschat/internal/config"
	handlers "github.com/ukschat/ukschat/internal/http/api/admin/handlers"
	"github.com/ukschat/ukschat/internal/http/api/middleware"
	"github.com/ukschat/ukschat/internal/payment"
	"github.com/ukschat/ukschat/internal/usage"
	"gorm.io/gorm"
)

// Deps carries the services behind the admin routes.
type Deps struct {
	DB       *gorm.DB
	JWT      config.JWTConfig
	Catalog  *catalog.Service
	Payments *payment.Service
	Gate     *usage.Gate
}

// RegisterAdminRoutes registers health and admin routes.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	authed := r.Group("/admin")
	authed.Use(middleware.RequireUser(deps.DB, deps.JWT))
	authed.Use(middleware.RequireAdmin())

	planHandler := handlers.NewPlanHandler(deps.Catalog)
	authed.GET("/plans", planHandler.List)
	authed.POST("/plans", planHandler.Create)
	authed.GET("/plans/:id", planHandler.Get)
	authed.PUT("/plans/:id", planHandler.Update)
	authed.PATCH("/plans/:id/toggle", planHandler.Toggle)
	authed.DELETE("/plans/:id", planHandler.Delete)

	billingHandler := handlers.NewBillingHandler(deps.Payments, deps.Gate)
	authed.GET("/billing/payments", billingHandler.Payments)
	authed.GET("/billing/usage-summary", billingHandler.UsageSummary)
}
