package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/ukschat/ukschat/internal/catalog"
	"github.com/ukschat/ukschat/internal/chat"
	"github.com/ukschat/ukschat/internal/config"
	"github.com/ukschat/ukschat/internal/db"
	"github.com/ukschat/ukschat/internal/http/api/admin"
	"github.com/ukschat/ukschat/internal/http/api/front"
	"github.com/ukschat/ukschat/internal/http/api/middleware"
	"github.com/ukschat/ukschat/internal/invoice"
	"github.com/ukschat/ukschat/internal/mail"
	"github.com/ukschat/ukschat/internal/metrics"
	"github.com/ukschat/ukschat/internal/payment"
	"github.com/ukschat/ukschat/internal/ratelimit"
	"github.com/ukschat/ukschat/internal/security"
	"github.com/ukschat/ukschat/internal/subscription"
	"github.com/ukschat/ukschat/internal/usage"
	"gorm.io/gorm"
)

const (
	shutdownTimeout    = 15 * time.Second
	limiterSweepPeriod = 5 * time.Minute
)

// Gateways lets callers replace the payment gateway adapters.
type Gateways struct {
	Domestic      payment.DomesticGateway
	International payment.InternationalGateway
}

// Server holds the wired services and HTTP engine.
type Server struct {
	Config        config.AppConfig
	DB            *gorm.DB
	Engine        *gin.Engine
	Metrics       *metrics.Metrics
	Limiter       *ratelimit.Manager
	Catalog       *catalog.Service
	Subscriptions *subscription.Service
	Gate          *usage.Gate
	Chat          *chat.Service
	Payments      *payment.Service
}

// Options override the default collaborators built from config.
type Options struct {
	Completer chat.Completer
	Gateways  *Gateways
	Registry  *prometheus.Registry
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	conn, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := db.Close(conn); errClose != nil {
			log.WithError(errClose).Warn("close database failed")
		}
	}()
	return db.Migrate(conn.WithContext(ctx))
}

// NewServer wires services and routes on an open, migrated connection.
func NewServer(cfg config.AppConfig, conn *gorm.DB, opts Options) (*Server, error) {
	if conn == nil {
		return nil, errors.New("app: nil database")
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		secret, errSecret := security.GenerateRandomString(48)
		if errSecret != nil {
			return nil, fmt.Errorf("app: generate jwt secret: %w", errSecret)
		}
		log.Warn("jwt secret not configured, using a random secret; tokens will not survive restarts")
		cfg.JWT.Secret = secret
	}

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := metrics.NewMetrics(registry)

	catalogSvc := catalog.NewService(conn)
	subs := subscription.NewService(conn).WithObserver(m)
	gate := usage.NewGate(conn).WithRecorder(m)

	completer := opts.Completer
	if completer == nil {
		completer = newRelay(cfg.AI, m)
	}
	chatSvc := chat.NewService(conn, gate, completer, chat.Options{
		SystemPrompt:    cfg.AI.SystemPrompt,
		ContextMessages: cfg.AI.ContextMessages,
	})

	gateways := opts.Gateways
	if gateways == nil {
		gateways = &Gateways{
			Domestic:      payment.NewRazorpayGateway(cfg.Razorpay),
			International: payment.NewStripeGateway(cfg.Stripe),
		}
	}
	var notifier payment.Notifier
	if mailer := mail.NewMailer(cfg.SMTP); mailer != nil {
		notifier = mailer
	} else {
		log.Info("smtp not configured, invoice emails disabled")
	}
	payments := payment.NewService(conn, subs, gateways.Domestic, gateways.International, payment.Options{
		MinAmount:  cfg.Razorpay.MinAmount,
		SuccessURL: cfg.Stripe.SuccessURL,
		CancelURL:  cfg.Stripe.CancelURL,
	}).
		WithInvoices(invoice.NewRenderer(cfg.Invoices.Dir, cfg.Invoices.SiteName), notifier).
		WithRecorder(m)

	limiter := ratelimit.NewManager(cfg.RateLimit, nil, nil)

	engine := newEngine(cfg, m)
	admin.RegisterAdminRoutes(engine, admin.Deps{
		DB:       conn,
		JWT:      cfg.JWT,
		Catalog:  catalogSvc,
		Payments: payments,
		Gate:     gate,
	})
	front.RegisterFrontRoutes(engine, front.Deps{
		DB:            conn,
		JWT:           cfg.JWT,
		Catalog:       catalogSvc,
		Subscriptions: subs,
		Chat:          chatSvc,
		Payments:      payments,
		Limiter:       limiter,
	})
	engine.GET("/metrics", gin.WrapH(m.Handler()))

	return &Server{
		Config:        cfg,
		DB:            conn,
		Engine:        engine,
		Metrics:       m,
		Limiter:       limiter,
		Catalog:       catalogSvc,
		Subscriptions: subs,
		Gate:          gate,
		Chat:          chatSvc,
		Payments:      payments,
	}, nil
}

// RunServer opens the database, seeds it and serves HTTP until ctx is done.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	conn, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := db.Close(conn); errClose != nil {
			log.WithError(errClose).Warn("close database failed")
		}
	}()
	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		return errMigrate
	}

	srv, errServer := NewServer(cfg, conn, Options{})
	if errServer != nil {
		return errServer
	}
	defer func() {
		if errClose := srv.Limiter.Close(); errClose != nil {
			log.WithError(errClose).Warn("close rate limiter failed")
		}
	}()
	if errSeed := Seed(ctx, conn, srv.Subscriptions, cfg.Seed); errSeed != nil {
		return errSeed
	}

	go sweepLimiter(ctx, srv.Limiter)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("ukschat listening on %s", httpServer.Addr)
		if errListen := httpServer.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			errCh <- errListen
		}
		close(errCh)
	}()

	select {
	case errListen := <-errCh:
		return errListen
	case <-ctx.Done():
	}

	log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := httpServer.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("app: shutdown: %w", errShutdown)
	}
	return nil
}

// ConfigureLogging applies the log level and format from cfg.
func ConfigureLogging(cfg config.AppConfig) {
	if strings.EqualFold(strings.TrimSpace(cfg.LogFormat), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		gin.SetMode(gin.DebugMode)
		return
	}
	log.SetLevel(log.InfoLevel)
	gin.SetMode(gin.ReleaseMode)
}

func newEngine(cfg config.AppConfig, m *metrics.Metrics) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger())
	engine.Use(m.Middleware())

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Disposition", "X-Total-Count", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.CORSOrigins) == 0 || (len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins
		corsCfg.AllowCredentials = true
	}
	engine.Use(cors.New(corsCfg))

	engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "UKSChat backend running"})
	})
	return engine
}

func newRelay(cfg config.AIConfig, recorder chat.ProviderRecorder) *chat.Relay {
	client := &http.Client{Timeout: cfg.Timeout + 5*time.Second}
	providers := make([]chat.Provider, 0, 2)
	for _, providerCfg := range []config.ProviderConfig{cfg.Primary, cfg.Fallback} {
		if !providerCfg.Enabled() {
			log.Infof("chat provider %s disabled (no api key)", providerCfg.Name)
			continue
		}
		providers = append(providers, chat.NewOpenAIProvider(providerCfg, client))
	}
	if len(providers) == 0 {
		log.Warn("no chat providers configured; chat requests will fail")
	}
	return chat.NewRelay(cfg.Timeout, providers...).WithRecorder(recorder)
}

func sweepLimiter(ctx context.Context, limiter *ratelimit.Manager) {
	ticker := time.NewTicker(limiterSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := limiter.Sweep(); removed > 0 {
				log.Debugf("ratelimit: swept %d expired counters", removed)
			}
		}
	}
}
