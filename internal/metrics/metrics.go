// Package metrics exposes Prometheus collectors for the chat and billing flows.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ukschat/ukschat/internal/models"
)

// Metrics holds the registered collectors. A nil *Metrics is a no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Usage metrics
	UsageDeniedTotal    *prometheus.CounterVec
	TokensConsumedTotal prometheus.Counter

	// Provider metrics
	ProviderAttemptsTotal   *prometheus.CounterVec
	ProviderAttemptDuration *prometheus.HistogramVec

	// Billing metrics
	PaymentsCreatedTotal        *prometheus.CounterVec
	PaymentsSettledTotal        *prometheus.CounterVec
	SubscriptionsActivatedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ukschat_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ukschat_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		UsageDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ukschat_usage_denied_total",
				Help: "Chat requests refused by the usage gate",
			},
			[]string{"reason"},
		),
		TokensConsumedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ukschat_tokens_consumed_total",
				Help: "Tokens debited from subscriptions",
			},
		),
		ProviderAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ukschat_provider_attempts_total",
				Help: "Completion attempts per upstream provider",
			},
			[]string{"provider", "status"},
		),
		ProviderAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ukschat_provider_attempt_duration_seconds",
				Help:    "Upstream completion latency in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		PaymentsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ukschat_payments_created_total",
				Help: "Payment attempts opened per gateway",
			},
			[]string{"gateway"},
		),
		PaymentsSettledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ukschat_payments_settled_total",
				Help: "Payments settled per gateway",
			},
			[]string{"gateway"},
		),
		SubscriptionsActivatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ukschat_subscriptions_activated_total",
				Help: "Subscriptions activated per plan",
			},
			[]string{"plan"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.UsageDeniedTotal,
		m.TokensConsumedTotal,
		m.ProviderAttemptsTotal,
		m.ProviderAttemptDuration,
		m.PaymentsCreatedTotal,
		m.PaymentsSettledTotal,
		m.SubscriptionsActivatedTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// UsageDenied counts a refused chat request.
func (m *Metrics) UsageDenied(reason string) {
	if m == nil {
		return
	}
	m.UsageDeniedTotal.WithLabelValues(reason).Inc()
}

// UsageConsumed counts debited tokens.
func (m *Metrics) UsageConsumed(tokens int) {
	if m == nil || tokens <= 0 {
		return
	}
	m.TokensConsumedTotal.Add(float64(tokens))
}

// ProviderAttempt records one upstream completion attempt.
func (m *Metrics) ProviderAttempt(provider string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "error"
	if ok {
		status = "ok"
	}
	m.ProviderAttemptsTotal.WithLabelValues(provider, status).Inc()
	m.ProviderAttemptDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// PaymentCreated counts an opened payment attempt.
func (m *Metrics) PaymentCreated(gateway string) {
	if m == nil {
		return
	}
	m.PaymentsCreatedTotal.WithLabelValues(gateway).Inc()
}

// PaymentSettled counts a settled payment.
func (m *Metrics) PaymentSettled(gateway string) {
	if m == nil {
		return
	}
	m.PaymentsSettledTotal.WithLabelValues(gateway).Inc()
}

// SubscriptionActivated counts an activation for plan.
func (m *Metrics) SubscriptionActivated(plan *models.Plan) {
	if m == nil || plan == nil {
		return
	}
	m.SubscriptionsActivatedTotal.WithLabelValues(plan.Name).Inc()
}
