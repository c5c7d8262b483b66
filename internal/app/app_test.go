package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ukschat/ukschat/internal/chat"
	"github.com/ukschat/ukschat/internal/config"
	"github.com/ukschat/ukschat/internal/db"
	"github.com/ukschat/ukschat/internal/models"
	"github.com/ukschat/ukschat/internal/payment"
	"gorm.io/gorm"
)

const testRazorpaySecret = "rzp_test_secret"

type echoCompleter struct{ calls int }

func (e *echoCompleter) Complete(_ context.Context, _ string, messages []chat.Message) (string, error) {
	e.calls++
	return "echo: " + messages[len(messages)-1].Content, nil
}

type stubDomestic struct{ orders int }

func (s *stubDomestic) KeyID() string { return "rzp_test_key" }

func (s *stubDomestic) CreateOrder(_ context.Context, amountMinor int64, currency, _ string) (payment.Order, error) {
	s.orders++
	return payment.Order{ID: "order_" + strconv.Itoa(s.orders), Amount: amountMinor, Currency: currency}, nil
}

func (s *stubDomestic) VerifySignature(orderID, paymentID, signature string) bool {
	return payment.VerifyRazorpaySignature(testRazorpaySecret, orderID, paymentID, signature)
}

type stubInternational struct{}

func (stubInternational) CreateCheckoutSession(_ context.Context, _ payment.CheckoutRequest) (payment.CheckoutSession, error) {
	return payment.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.example/cs_test_1"}, nil
}

func (stubInternational) SessionStatus(_ context.Context, sessionID string) (payment.SessionStatus, error) {
	return payment.SessionStatus{ID: sessionID, Paid: true, PaymentIntentID: "pi_1"}, nil
}

func (stubInternational) ParseWebhook(_ []byte, _ string) (payment.WebhookEvent, error) {
	return payment.WebhookEvent{}, payment.ErrInvalidSignature
}

type testApp struct {
	srv       *Server
	conn      *gorm.DB
	completer *echoCompleter
}

func newTestApp(t *testing.T, mutate func(cfg *config.AppConfig)) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	conn, err := db.Open("file:" + filepath.Join(dir, "app.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	t.Cleanup(func() { _ = db.Close(conn) })

	cfg := config.Defaults()
	cfg.DatabaseDSN = "file:" + filepath.Join(dir, "app.db")
	cfg.JWT.Secret = "test-secret"
	cfg.Invoices.Dir = filepath.Join(dir, "invoices")
	if mutate != nil {
		mutate(&cfg)
	}

	completer := &echoCompleter{}
	srv, errServer := NewServer(cfg, conn, Options{
		Completer: completer,
		Gateways:  &Gateways{Domestic: &stubDomestic{}, International: stubInternational{}},
		Registry:  prometheus.NewRegistry(),
	})
	if errServer != nil {
		t.Fatalf("new server: %v", errServer)
	}
	if errSeed := Seed(context.Background(), conn, srv.Subscriptions, cfg.Seed); errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}
	return &testApp{srv: srv, conn: conn, completer: completer}
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.srv.Engine.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		Role        string `json:"role"`
	}
	decode(t, rec, &out)
	if out.TokenType != "bearer" || out.AccessToken == "" {
		t.Fatalf("unexpected login response: %s", rec.Body.String())
	}
	return out.AccessToken
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if errDecode := json.Unmarshal(rec.Body.Bytes(), v); errDecode != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), errDecode)
	}
}

func TestSeed_Idempotent(t *testing.T) {
	app := newTestApp(t, nil)
	if errSeed := Seed(context.Background(), app.conn, app.srv.Subscriptions, config.Defaults().Seed); errSeed != nil {
		t.Fatalf("second seed: %v", errSeed)
	}

	var plans, users, subs int64
	app.conn.Model(&models.Plan{}).Count(&plans)
	app.conn.Model(&models.User{}).Count(&users)
	app.conn.Model(&models.Subscription{}).Count(&subs)
	if plans != 4 || users != 2 || subs != 2 {
		t.Fatalf("expected 4 plans, 2 users, 2 subscriptions; got %d, %d, %d", plans, users, subs)
	}

	var admin models.User
	if errFind := app.conn.Where("email = ?", "admin@ukschat.com").First(&admin).Error; errFind != nil {
		t.Fatalf("find admin: %v", errFind)
	}
	if !admin.IsAdmin() {
		t.Fatalf("expected seeded admin role")
	}
	var sub models.Subscription
	if errFind := app.conn.Preload("Plan").Where("user_id = ?", admin.ID).First(&sub).Error; errFind != nil {
		t.Fatalf("find admin subscription: %v", errFind)
	}
	if sub.Plan.Name != "Pro Plus" || sub.TokenQuota != 3000 {
		t.Fatalf("unexpected admin subscription: plan=%s quota=%d", sub.Plan.Name, sub.TokenQuota)
	}
	if sub.EndDate.Sub(sub.StartDate) < 364*24*time.Hour {
		t.Fatalf("expected a year-long seed window, got %v", sub.EndDate.Sub(sub.StartDate))
	}
}

func TestHealthAndPublicPlans(t *testing.T) {
	app := newTestApp(t, nil)

	if rec := app.do(t, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}

	rec := app.do(t, http.MethodGet, "/plans", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("plans status %d", rec.Code)
	}
	var plans []struct {
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}
	decode(t, rec, &plans)
	if len(plans) != 4 {
		t.Fatalf("expected 4 plans, got %d", len(plans))
	}
	for i := 1; i < len(plans); i++ {
		if plans[i-1].Price > plans[i].Price {
			t.Fatalf("plans not ordered by price: %+v", plans)
		}
	}
}

func TestRegisterLoginAndChat(t *testing.T) {
	app := newTestApp(t, nil)

	creds := map[string]string{"email": "New@Example.com", "password": "secret123"}
	rec := app.do(t, http.MethodPost, "/auth/register", "", creds)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status %d body %s", rec.Code, rec.Body.String())
	}
	if dup := app.do(t, http.MethodPost, "/auth/register", "", creds); dup.Code != http.StatusBadRequest {
		t.Fatalf("duplicate register status %d", dup.Code)
	}
	if bad := app.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "new@example.com", "password": "nope"}); bad.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status %d", bad.Code)
	}

	token := app.login(t, "new@example.com", "secret123")

	rec = app.do(t, http.MethodGet, "/subscription/me", token, nil)
	var snapshot struct {
		Active          bool   `json:"active"`
		PlanName        string `json:"plan_name"`
		RemainingTokens int    `json:"remaining_tokens"`
	}
	decode(t, rec, &snapshot)
	if !snapshot.Active || snapshot.PlanName != "Free Tier" || snapshot.RemainingTokens != 50 {
		t.Fatalf("unexpected snapshot: %s", rec.Body.String())
	}

	if unauth := app.do(t, http.MethodPost, "/chat", "", map[string]string{"message": "hi"}); unauth.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated chat status %d", unauth.Code)
	}
	if empty := app.do(t, http.MethodPost, "/chat", token, map[string]string{"message": "  "}); empty.Code != http.StatusBadRequest {
		t.Fatalf("empty chat status %d", empty.Code)
	}

	rec = app.do(t, http.MethodPost, "/chat", token, map[string]string{"message": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status %d body %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Reply   string `json:"reply"`
		History []struct {
			Role string `json:"role"`
		} `json:"history"`
	}
	decode(t, rec, &result)
	if result.Reply != "echo: hello" || len(result.History) != 2 {
		t.Fatalf("unexpected chat result: %s", rec.Body.String())
	}

	rec = app.do(t, http.MethodGet, "/subscription/me", token, nil)
	decode(t, rec, &snapshot)
	if snapshot.RemainingTokens != 49 {
		t.Fatalf("expected 49 remaining, got %d", snapshot.RemainingTokens)
	}

	if rec := app.do(t, http.MethodDelete, "/subscription/cancel", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("cancel status %d", rec.Code)
	}
	if rec := app.do(t, http.MethodDelete, "/subscription/cancel", token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second cancel status %d", rec.Code)
	}
	rec = app.do(t, http.MethodPost, "/chat", token, map[string]string{"message": "again"})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("chat without subscription status %d", rec.Code)
	}
	var errBody struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	decode(t, rec, &errBody)
	if errBody.Detail == "" || errBody.Error != errBody.Detail {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}
}

func TestChatRateLimit(t *testing.T) {
	app := newTestApp(t, func(cfg *config.AppConfig) {
		cfg.RateLimit.Limit = 1
		cfg.RateLimit.Window = time.Hour
	})
	token := app.login(t, "user@ukschat.com", "User@123")

	if rec := app.do(t, http.MethodPost, "/chat", token, map[string]string{"message": "one"}); rec.Code != http.StatusOK {
		t.Fatalf("first chat status %d", rec.Code)
	}
	rec := app.do(t, http.MethodPost, "/chat", token, map[string]string{"message": "two"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if app.completer.calls != 1 {
		t.Fatalf("expected a single upstream call, got %d", app.completer.calls)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	app := newTestApp(t, nil)
	userToken := app.login(t, "user@ukschat.com", "User@123")
	adminToken := app.login(t, "admin@ukschat.com", "Admin@123")

	if rec := app.do(t, http.MethodGet, "/admin/plans", userToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("user on admin route status %d", rec.Code)
	}

	rec := app.do(t, http.MethodPost, "/admin/plans", adminToken, map[string]any{
		"name": "Team", "price": 999, "currency": "INR", "tokens_per_month": 10000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create plan status %d body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID       uint64 `json:"id"`
		IsActive bool   `json:"is_active"`
	}
	decode(t, rec, &created)
	if !created.IsActive {
		t.Fatalf("expected new plan to default to active")
	}

	path := "/admin/plans/" + strconv.FormatUint(created.ID, 10)
	rec = app.do(t, http.MethodPut, path, adminToken, map[string]any{"price": 1099})
	var updated struct {
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}
	decode(t, rec, &updated)
	if updated.Name != "Team" || updated.Price != 1099 {
		t.Fatalf("unexpected update result: %s", rec.Body.String())
	}
	if rec := app.do(t, http.MethodPut, path, adminToken, map[string]any{"name": nil}); rec.Code != http.StatusBadRequest {
		t.Fatalf("null name status %d", rec.Code)
	}

	rec = app.do(t, http.MethodPatch, path+"/toggle", adminToken, nil)
	var toggled struct {
		IsActive bool `json:"is_active"`
	}
	decode(t, rec, &toggled)
	if toggled.IsActive {
		t.Fatalf("expected toggle to deactivate plan")
	}
	if rec := app.do(t, http.MethodDelete, path, adminToken, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", rec.Code)
	}
	if rec := app.do(t, http.MethodGet, path, adminToken, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted plan status %d", rec.Code)
	}

	rec = app.do(t, http.MethodGet, "/admin/billing/usage-summary", adminToken, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "total_revenue") {
		t.Fatalf("usage summary status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestRazorpayUpgradeAndInvoice(t *testing.T) {
	app := newTestApp(t, nil)
	token := app.login(t, "user@ukschat.com", "User@123")

	var pro models.Plan
	if errFind := app.conn.Where("name = ?", "Pro Monthly").First(&pro).Error; errFind != nil {
		t.Fatalf("find plan: %v", errFind)
	}
	var global models.Plan
	if errFind := app.conn.Where("name = ?", "Pro Global").First(&global).Error; errFind != nil {
		t.Fatalf("find plan: %v", errFind)
	}

	wrong := app.do(t, http.MethodPost, "/payments/razorpay/create-order/"+strconv.FormatUint(global.ID, 10), token, nil)
	if wrong.Code != http.StatusBadRequest || !strings.Contains(wrong.Body.String(), "Invalid INR plan") {
		t.Fatalf("usd plan on domestic gateway: status %d body %s", wrong.Code, wrong.Body.String())
	}

	rec := app.do(t, http.MethodPost, "/payments/razorpay/create-order/"+strconv.FormatUint(pro.ID, 10), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("create order status %d body %s", rec.Code, rec.Body.String())
	}
	var order struct {
		OrderID   string `json:"order_id"`
		Amount    int64  `json:"amount"`
		PaymentID uint64 `json:"payment_id"`
	}
	decode(t, rec, &order)
	if order.Amount != 29900 {
		t.Fatalf("expected 29900 minor units, got %d", order.Amount)
	}

	bad := app.do(t, http.MethodPost, "/payments/razorpay/verify", token, map[string]string{
		"order_id": order.OrderID, "payment_id": "pay_1", "signature": "forged",
	})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("forged signature status %d", bad.Code)
	}
	if missing := app.do(t, http.MethodPost, "/payments/razorpay/verify", token, map[string]string{"order_id": order.OrderID}); missing.Code != http.StatusBadRequest {
		t.Fatalf("missing fields status %d", missing.Code)
	}

	invoicePath := "/payments/invoice/" + strconv.FormatUint(order.PaymentID, 10)
	if rec := app.do(t, http.MethodGet, invoicePath, token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("invoice before settlement status %d", rec.Code)
	}

	signature := payment.SignRazorpay(testRazorpaySecret, order.OrderID, "pay_1")
	rec = app.do(t, http.MethodPost, "/payments/razorpay/verify", token, map[string]string{
		"order_id": order.OrderID, "payment_id": "pay_1", "signature": signature,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status %d body %s", rec.Code, rec.Body.String())
	}

	rec = app.do(t, http.MethodGet, "/subscription/me", token, nil)
	var snapshot struct {
		PlanName        string `json:"plan_name"`
		UsedTokens      int    `json:"used_tokens"`
		RemainingTokens int    `json:"remaining_tokens"`
	}
	decode(t, rec, &snapshot)
	if snapshot.PlanName != "Pro Monthly" || snapshot.UsedTokens != 0 || snapshot.RemainingTokens != 1000 {
		t.Fatalf("unexpected snapshot after upgrade: %s", rec.Body.String())
	}

	rec = app.do(t, http.MethodGet, invoicePath, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("invoice status %d body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "invoice_") {
		t.Fatalf("expected attachment header, got %q", rec.Header().Get("Content-Disposition"))
	}

	adminToken := app.login(t, "admin@ukschat.com", "Admin@123")
	rec = app.do(t, http.MethodGet, "/admin/billing/payments?status=success", adminToken, nil)
	var rows []struct {
		UserEmail string `json:"user_email"`
		PlanName  string `json:"plan_name"`
	}
	decode(t, rec, &rows)
	if len(rows) != 1 || rows[0].UserEmail != "user@ukschat.com" || rows[0].PlanName != "Pro Monthly" {
		t.Fatalf("unexpected payments listing: %s", rec.Body.String())
	}
}

func TestStripeCheckoutAndConfirm(t *testing.T) {
	app := newTestApp(t, nil)
	token := app.login(t, "user@ukschat.com", "User@123")

	var global models.Plan
	if errFind := app.conn.Where("name = ?", "Pro Global").First(&global).Error; errFind != nil {
		t.Fatalf("find plan: %v", errFind)
	}
	rec := app.do(t, http.MethodPost, "/payments/stripe/checkout/"+strconv.FormatUint(global.ID, 10), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout status %d body %s", rec.Code, rec.Body.String())
	}
	var checkout struct {
		CheckoutURL string `json:"checkout_url"`
		SessionID   string `json:"session_id"`
	}
	decode(t, rec, &checkout)
	if checkout.CheckoutURL == "" || checkout.SessionID != "cs_test_1" {
		t.Fatalf("unexpected checkout: %s", rec.Body.String())
	}

	rec = app.do(t, http.MethodPost, "/payments/stripe/confirm", token, map[string]string{"session_id": checkout.SessionID})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status %d body %s", rec.Code, rec.Body.String())
	}
	rec = app.do(t, http.MethodGet, "/subscription/me", token, nil)
	if !strings.Contains(rec.Body.String(), "Pro Global") {
		t.Fatalf("expected Pro Global subscription: %s", rec.Body.String())
	}

	if rec := app.do(t, http.MethodPost, "/payments/stripe/webhook", "", map[string]string{"type": "x"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("unsigned webhook status %d", rec.Code)
	}
}
