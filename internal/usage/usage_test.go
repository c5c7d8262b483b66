package usage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ukschat/ukschat/internal/db"
	"github.com/ukschat/ukschat/internal/models"
	"github.com/ukschat/ukschat/internal/subscription"
	"gorm.io/gorm"
)

type recorder struct {
	denied   []string
	consumed int
}

func (r *recorder) UsageDenied(reason string) { r.denied = append(r.denied, reason) }
func (r *recorder) UsageConsumed(tokens int)  { r.consumed += tokens }

func setup(t *testing.T, quota int) (*gorm.DB, *Gate, *subscription.Service, models.User, models.Plan) {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	user := models.User{Email: "gate@example.com", Password: "x", Role: models.RoleUser}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	plan := models.Plan{Name: "Free Tier", Price: 0, Currency: models.CurrencyINR, TokensPerMonth: quota, IsActive: true}
	if errCreate := conn.Create(&plan).Error; errCreate != nil {
		t.Fatalf("create plan: %v", errCreate)
	}
	return conn, NewGate(conn), subscription.NewService(conn), user, plan
}

func setUsed(t *testing.T, conn *gorm.DB, subID uint64, used int) {
	t.Helper()
	if errUpdate := conn.Model(&models.Subscription{}).Where("id = ?", subID).Update("used_tokens", used).Error; errUpdate != nil {
		t.Fatalf("set used tokens: %v", errUpdate)
	}
}

func TestCheck_NoSubscription(t *testing.T) {
	_, gate, _, user, _ := setup(t, 50)
	rec := &recorder{}
	gate.WithRecorder(rec)

	decision, err := gate.Check(context.Background(), user.ID, 1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Allowed || decision.Reason != ReasonNoSubscription {
		t.Fatalf("expected no_subscription denial, got %+v", decision)
	}
	if reason, ok := IsDenied(decision.Err()); !ok || reason != ReasonNoSubscription {
		t.Fatalf("expected DeniedError, got %v", decision.Err())
	}
	if len(rec.denied) != 1 || rec.denied[0] != "no_subscription" {
		t.Fatalf("expected recorded denial, got %v", rec.denied)
	}
}

func TestCheck_QuotaBoundary(t *testing.T) {
	conn, gate, subs, user, plan := setup(t, 50)
	ctx := context.Background()
	sub, err := subs.Activate(ctx, user.ID, plan.ID, subscription.DefaultWindowDays)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	setUsed(t, conn, sub.ID, 49)
	decision, err := gate.Check(ctx, user.ID, 1)
	if err != nil || !decision.Allowed {
		t.Fatalf("expected allow at quota-1, got %+v err=%v", decision, err)
	}

	setUsed(t, conn, sub.ID, 50)
	decision, err = gate.Check(ctx, user.ID, 1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Allowed || decision.Reason != ReasonQuotaExceeded {
		t.Fatalf("expected quota_exceeded at quota, got %+v", decision)
	}
}

func TestCheck_Expired(t *testing.T) {
	_, gate, subs, user, plan := setup(t, 50)
	ctx := context.Background()
	if _, err := subs.Activate(ctx, user.ID, plan.ID, subscription.DefaultWindowDays); err != nil {
		t.Fatalf("activate: %v", err)
	}
	gate.WithClock(func() time.Time { return time.Now().UTC().AddDate(0, 0, 31) })
	decision, err := gate.Check(ctx, user.ID, 1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Allowed || decision.Reason != ReasonExpired {
		t.Fatalf("expected expired denial, got %+v", decision)
	}
}

func TestCheckAndConsume_FiftyThenDenied(t *testing.T) {
	conn, gate, subs, user, plan := setup(t, 50)
	ctx := context.Background()
	sub, err := subs.Activate(ctx, user.ID, plan.ID, subscription.DefaultWindowDays)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if sub.UsedTokens != 0 {
		t.Fatalf("expected fresh subscription, got used=%d", sub.UsedTokens)
	}

	for i := 1; i <= 50; i++ {
		decision, errConsume := gate.CheckAndConsume(ctx, user.ID, 1)
		if errConsume != nil {
			t.Fatalf("turn %d: %v", i, errConsume)
		}
		if !decision.Allowed {
			t.Fatalf("turn %d: expected allowed, got %+v", i, decision)
		}
	}
	decision, err := gate.CheckAndConsume(ctx, user.ID, 1)
	if err != nil {
		t.Fatalf("turn 51: %v", err)
	}
	if decision.Allowed || decision.Reason != ReasonQuotaExceeded {
		t.Fatalf("turn 51: expected quota_exceeded, got %+v", decision)
	}

	var stored models.Subscription
	if errFind := conn.First(&stored, sub.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if stored.UsedTokens != 50 {
		t.Fatalf("expected used=50, got %d", stored.UsedTokens)
	}
	var logs int64
	if errCount := conn.Model(&models.UsageLog{}).Where("user_id = ?", user.ID).Count(&logs).Error; errCount != nil {
		t.Fatalf("count logs: %v", errCount)
	}
	if logs != 50 {
		t.Fatalf("expected 50 usage logs, got %d", logs)
	}
}

func TestCheckAndConsume_ConcurrentNeverOverruns(t *testing.T) {
	const quota = 5
	const workers = 20
	conn, gate, subs, user, plan := setup(t, quota)
	ctx := context.Background()
	sub, err := subs.Activate(ctx, user.ID, plan.ID, subscription.DefaultWindowDays)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		denied  int
	)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, errConsume := gate.CheckAndConsume(ctx, user.ID, 1)
			if errConsume != nil {
				errs <- errConsume
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if decision.Allowed {
				allowed++
			} else if decision.Reason == ReasonQuotaExceeded {
				denied++
			}
		}()
	}
	wg.Wait()
	close(errs)
	for errConsume := range errs {
		t.Fatalf("check and consume: %v", errConsume)
	}
	if allowed != quota || denied != workers-quota {
		t.Fatalf("expected %d allowed and %d denied, got %d and %d", quota, workers-quota, allowed, denied)
	}

	var stored models.Subscription
	if errFind := conn.First(&stored, sub.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if stored.UsedTokens != quota {
		t.Fatalf("expected used=%d, got %d", quota, stored.UsedTokens)
	}
	var logs int64
	if errCount := conn.Model(&models.UsageLog{}).Where("subscription_id = ?", sub.ID).Count(&logs).Error; errCount != nil {
		t.Fatalf("count logs: %v", errCount)
	}
	if logs != quota {
		t.Fatalf("expected %d usage logs, got %d", quota, logs)
	}
}

func TestConsume_ConditionalIncrement(t *testing.T) {
	conn, gate, subs, user, plan := setup(t, 2)
	ctx := context.Background()
	sub, err := subs.Activate(ctx, user.ID, plan.ID, subscription.DefaultWindowDays)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	// Two requests pass the check before either debits.
	for i := 0; i < 2; i++ {
		if decision, errCheck := gate.Check(ctx, user.ID, 1); errCheck != nil || !decision.Allowed {
			t.Fatalf("check %d: %+v err=%v", i, decision, errCheck)
		}
	}
	setUsed(t, conn, sub.ID, 2)
	errConsume := gate.Consume(ctx, nil, sub.ID, user.ID, 1)
	if reason, ok := IsDenied(errConsume); !ok || reason != ReasonQuotaExceeded {
		t.Fatalf("expected quota denial from conditional consume, got %v", errConsume)
	}

	var stored models.Subscription
	if errFind := conn.First(&stored, sub.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if stored.UsedTokens != 2 {
		t.Fatalf("usage must not pass quota, got %d", stored.UsedTokens)
	}
}

func TestConsume_CancelledSubscription(t *testing.T) {
	_, gate, subs, user, plan := setup(t, 10)
	ctx := context.Background()
	sub, err := subs.Activate(ctx, user.ID, plan.ID, subscription.DefaultWindowDays)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, errCancel := subs.Cancel(ctx, user.ID); errCancel != nil {
		t.Fatalf("cancel: %v", errCancel)
	}
	var denied *DeniedError
	if errConsume := gate.Consume(ctx, nil, sub.ID, user.ID, 1); !errors.As(errConsume, &denied) {
		t.Fatalf("expected DeniedError for cancelled subscription, got %v", errConsume)
	}
	decision, err := gate.Check(ctx, user.ID, 1)
	if err != nil || decision.Reason != ReasonNoSubscription {
		t.Fatalf("expected no_subscription after cancel, got %+v err=%v", decision, err)
	}
}

func TestSummarize(t *testing.T) {
	conn, gate, subs, user, plan := setup(t, 10)
	ctx := context.Background()
	if _, err := subs.Activate(ctx, user.ID, plan.ID, subscription.DefaultWindowDays); err != nil {
		t.Fatalf("activate: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := gate.CheckAndConsume(ctx, user.ID, 1); err != nil {
			t.Fatalf("consume: %v", err)
		}
	}
	payments := []models.Payment{
		{UserID: user.ID, PlanID: plan.ID, Gateway: models.GatewayRazorpay, Amount: 299, Currency: "INR", Status: models.PaymentStatusSuccess, TransactionID: "order_1"},
		{UserID: user.ID, PlanID: plan.ID, Gateway: models.GatewayRazorpay, Amount: 599, Currency: "INR", Status: models.PaymentStatusCreated, TransactionID: "order_2"},
		{UserID: user.ID, PlanID: plan.ID, Gateway: models.GatewayStripe, Amount: 9.99, Currency: "USD", Status: models.PaymentStatusSuccess, TransactionID: "cs_1"},
	}
	for i := range payments {
		if errCreate := conn.Omit("User", "Plan").Create(&payments[i]).Error; errCreate != nil {
			t.Fatalf("create payment: %v", errCreate)
		}
	}

	summary, err := gate.Summarize(ctx, 5)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.TotalTokens != 3 {
		t.Fatalf("expected 3 tokens, got %d", summary.TotalTokens)
	}
	if len(summary.TopUsers) != 1 || summary.TopUsers[0].Email != "gate@example.com" || summary.TopUsers[0].Tokens != 3 {
		t.Fatalf("unexpected top users: %+v", summary.TopUsers)
	}
	if len(summary.Revenue) != 2 || summary.Revenue[0].Currency != "INR" || summary.Revenue[0].Total != 299 {
		t.Fatalf("unexpected revenue: %+v", summary.Revenue)
	}
	if summary.TotalRevenue < 308.98 || summary.TotalRevenue > 309.0 {
		t.Fatalf("unexpected total revenue %v", summary.TotalRevenue)
	}
}
