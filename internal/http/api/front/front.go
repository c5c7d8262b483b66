package front

import (
	"github.com/gin-gonic/gin"
	"github.com/ukschat/ukschat/internal/catalog"
	"github.com/ukschat/ukschat/internal/chat"
	"github.com/ukschat/ukschat/internal/config"
	"github.com/ukschat/ukschat/internal/http/api/front/handlers"
	"github.com/ukschat/ukschat/internal/http/api/middleware"
	"github.com/ukschat/ukschat/internal/payment"
	"github.com/ukschat/ukschat/internal/ratelimit"
	"github.com/ukschat/ukschat/internal/subscription"
	"gorm.io/gorm"
)

// Deps carries the services behind the user-facing routes.
type Deps struct {
	DB            *gorm.DB
	JWT           config.JWTConfig
	Catalog       *catalog.Service
	Subscriptions *subscription.Service
	Chat          *chat.Service
	Payments      *payment.Service
	Limiter       *ratelimit.Manager
}

// RegisterFrontRoutes registers the public and authenticated user routes.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	authHandler := handlers.NewAuthHandler(deps.DB, deps.JWT, deps.Catalog, deps.Subscriptions)
	planHandler := handlers.NewPlanFrontHandler(deps.Catalog)
	chatHandler := handlers.NewChatHandler(deps.Chat)
	paymentHandler := handlers.NewPaymentHandler(deps.Payments)
	subscriptionHandler := handlers.NewSubscriptionHandler(deps.Subscriptions)

	r.POST("/auth/register", authHandler.Register)
	r.POST("/auth/login", authHandler.Login)
	r.GET("/plans", planHandler.List)
	r.POST("/payments/stripe/webhook", paymentHandler.StripeWebhook)

	authed := r.Group("")
	authed.Use(middleware.RequireUser(deps.DB, deps.JWT))

	authed.GET("/auth/me", authHandler.Me)

	authed.POST("/chat", middleware.RateLimit(deps.DB, deps.Limiter), chatHandler.Send)
	authed.GET("/chat/history", chatHandler.History)

	authed.POST("/payments/razorpay/create-order/:plan_id", paymentHandler.CreateRazorpayOrder)
	authed.POST("/payments/razorpay/verify", paymentHandler.VerifyRazorpay)
	authed.POST("/payments/stripe/checkout/:plan_id", paymentHandler.CreateStripeCheckout)
	authed.POST("/payments/stripe/confirm", paymentHandler.ConfirmStripe)
	authed.GET("/payments/invoice/:payment_id", paymentHandler.DownloadInvoice)

	authed.GET("/subscription/me", subscriptionHandler.Me)
	authed.DELETE("/subscription/cancel", subscriptionHandler.Cancel)
}
