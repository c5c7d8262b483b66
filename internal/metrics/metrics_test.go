package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ukschat/ukschat/internal/models"
)

func TestRecorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.UsageDenied("quota_exceeded")
	m.UsageDenied("quota_exceeded")
	m.UsageConsumed(3)
	m.ProviderAttempt("openai", false, 10*time.Millisecond)
	m.ProviderAttempt("groq", true, 20*time.Millisecond)
	m.PaymentCreated("razorpay")
	m.PaymentSettled("razorpay")
	m.SubscriptionActivated(&models.Plan{Name: "Pro Monthly"})

	if got := testutil.ToFloat64(m.UsageDeniedTotal.WithLabelValues("quota_exceeded")); got != 2 {
		t.Fatalf("expected 2 denials, got %v", got)
	}
	if got := testutil.ToFloat64(m.TokensConsumedTotal); got != 3 {
		t.Fatalf("expected 3 tokens, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProviderAttemptsTotal.WithLabelValues("openai", "error")); got != 1 {
		t.Fatalf("expected 1 failed openai attempt, got %v", got)
	}
	if got := testutil.ToFloat64(m.PaymentsSettledTotal.WithLabelValues("razorpay")); got != 1 {
		t.Fatalf("expected 1 settled payment, got %v", got)
	}
	if got := testutil.ToFloat64(m.SubscriptionsActivatedTotal.WithLabelValues("Pro Monthly")); got != 1 {
		t.Fatalf("expected 1 activation, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.UsageDenied("expired")
	m.UsageConsumed(1)
	m.ProviderAttempt("openai", true, time.Second)
	m.PaymentCreated("stripe")
	m.PaymentSettled("stripe")
	m.SubscriptionActivated(&models.Plan{Name: "Free Tier"})
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(prometheus.NewRegistry())

	engine := gin.New()
	engine.Use(m.Middleware())
	engine.GET("/plans", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/metrics", gin.WrapH(m.Handler()))

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plans", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	srv := httptest.NewServer(engine)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `ukschat_http_requests_total{method="GET",path="/plans",status="200"} 1`) {
		t.Fatalf("missing request counter in scrape:\n%s", body)
	}
}
