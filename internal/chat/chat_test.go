package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ukschat/ukschat/internal/config"
	"github.com/ukschat/ukschat/internal/db"
	"github.com/ukschat/ukschat/internal/models"
	"github.com/ukschat/ukschat/internal/subscription"
	"github.com/ukschat/ukschat/internal/usage"
	"gorm.io/gorm"
)

func completionServer(t *testing.T, status int, reply string, hits *int32, seen *[]Message) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if seen != nil {
			body, _ := io.ReadAll(r.Body)
			var payload struct {
				Messages []Message `json:"messages"`
			}
			_ = json.Unmarshal(body, &payload)
			*seen = payload.Messages
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"`+reply+`"}}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"error":{"message":"upstream down"}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func provider(name, url string) *OpenAIProvider {
	return NewOpenAIProvider(config.ProviderConfig{Name: name, URL: url, APIKey: "test-key", Model: "m", Temperature: 0.7}, nil)
}

func TestRelay_FailsOverToFallback(t *testing.T) {
	var primaryHits, fallbackHits int32
	primary := completionServer(t, http.StatusInternalServerError, "", &primaryHits, nil)
	fallback := completionServer(t, http.StatusOK, "from fallback", &fallbackHits, nil)

	relay := NewRelay(5*time.Second, provider("openai", primary.URL), provider("groq", fallback.URL))
	reply, err := relay.Complete(context.Background(), "sys", []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply != "from fallback" {
		t.Fatalf("expected fallback reply, got %q", reply)
	}
	if primaryHits != 1 || fallbackHits != 1 {
		t.Fatalf("expected one call each, got primary=%d fallback=%d", primaryHits, fallbackHits)
	}
}

func TestRelay_PrimaryWins(t *testing.T) {
	var fallbackHits int32
	var seen []Message
	primary := completionServer(t, http.StatusOK, "from primary", nil, &seen)
	fallback := completionServer(t, http.StatusOK, "from fallback", &fallbackHits, nil)

	relay := NewRelay(5*time.Second, provider("openai", primary.URL), provider("groq", fallback.URL))
	reply, err := relay.Complete(context.Background(), "be nice", []Message{{Role: "user", Content: "hi"}})
	if err != nil || reply != "from primary" {
		t.Fatalf("expected primary reply, got %q err=%v", reply, err)
	}
	if fallbackHits != 0 {
		t.Fatalf("fallback must not be called when primary succeeds")
	}
	if len(seen) != 2 || seen[0].Role != "system" || seen[0].Content != "be nice" || seen[1].Content != "hi" {
		t.Fatalf("unexpected upstream messages: %+v", seen)
	}
}

func TestRelay_AllFail(t *testing.T) {
	primary := completionServer(t, http.StatusBadGateway, "", nil, nil)
	relay := NewRelay(time.Second, provider("openai", primary.URL), NewOpenAIProvider(config.ProviderConfig{Name: "groq"}, nil))
	if _, err := relay.Complete(context.Background(), "", []Message{{Role: "user", Content: "hi"}}); !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("expected ErrUpstreamFailure, got %v", err)
	}
}

type stubCompleter struct {
	reply    string
	err      error
	lastSeen []Message
}

func (s *stubCompleter) Complete(_ context.Context, _ string, messages []Message) (string, error) {
	s.lastSeen = messages
	return s.reply, s.err
}

func chatFixture(t *testing.T, quota int) (*gorm.DB, *subscription.Service, *usage.Gate, models.User) {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	user := models.User{Email: "chat@example.com", Password: "x", Role: models.RoleUser}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	plan := models.Plan{Name: "Free Tier", Currency: models.CurrencyINR, TokensPerMonth: quota, IsActive: true}
	if errCreate := conn.Create(&plan).Error; errCreate != nil {
		t.Fatalf("create plan: %v", errCreate)
	}
	subs := subscription.NewService(conn)
	if _, errActivate := subs.Activate(context.Background(), user.ID, plan.ID, subscription.DefaultWindowDays); errActivate != nil {
		t.Fatalf("activate: %v", errActivate)
	}
	return conn, subs, usage.NewGate(conn), user
}

func TestService_SendDebitsAndReturnsHistory(t *testing.T) {
	conn, subs, gate, user := chatFixture(t, 5)
	completer := &stubCompleter{reply: "hello back"}
	svc := NewService(conn, gate, completer, Options{SystemPrompt: "sys", ContextMessages: 3})
	ctx := context.Background()

	res, err := svc.Send(ctx, user.ID, "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Reply != "hello back" || len(res.History) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.History[0].Role != models.ChatRoleUser || res.History[1].Role != models.ChatRoleAssistant {
		t.Fatalf("unexpected history order: %+v", res.History)
	}
	if len(completer.lastSeen) != 1 || completer.lastSeen[0].Content != "hello" {
		t.Fatalf("user message must appear exactly once in context: %+v", completer.lastSeen)
	}

	for i := 0; i < 2; i++ {
		if _, errSend := svc.Send(ctx, user.ID, "again"); errSend != nil {
			t.Fatalf("send %d: %v", i, errSend)
		}
	}
	if len(completer.lastSeen) != 3 {
		t.Fatalf("expected context window of 3, got %d", len(completer.lastSeen))
	}
	if completer.lastSeen[2].Role != models.ChatRoleUser || completer.lastSeen[2].Content != "again" {
		t.Fatalf("expected newest user message last, got %+v", completer.lastSeen)
	}

	snap, err := subs.Snapshot(ctx, user.ID)
	if err != nil || snap.UsedTokens != 3 {
		t.Fatalf("expected 3 used tokens, got %+v err=%v", snap, err)
	}
}

func TestService_UpstreamFailureDoesNotDebit(t *testing.T) {
	conn, subs, gate, user := chatFixture(t, 5)
	svc := NewService(conn, gate, &stubCompleter{err: errors.New("boom")}, Options{})
	ctx := context.Background()

	if _, err := svc.Send(ctx, user.ID, "hello"); !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("expected ErrUpstreamFailure, got %v", err)
	}
	snap, err := subs.Snapshot(ctx, user.ID)
	if err != nil || snap.UsedTokens != 0 {
		t.Fatalf("expected no debit, got %+v err=%v", snap, err)
	}
	history, err := svc.History(ctx, user.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Role != models.ChatRoleUser {
		t.Fatalf("expected only the user message, got %+v", history)
	}
	var logs int64
	conn.Model(&models.UsageLog{}).Count(&logs)
	if logs != 0 {
		t.Fatalf("expected no usage logs, got %d", logs)
	}
}

func TestService_DeniedWhenQuotaUsed(t *testing.T) {
	conn, _, gate, user := chatFixture(t, 1)
	completer := &stubCompleter{reply: "ok"}
	svc := NewService(conn, gate, completer, Options{})
	ctx := context.Background()

	if _, err := svc.Send(ctx, user.ID, "one"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	completer.lastSeen = nil
	_, err := svc.Send(ctx, user.ID, "two")
	if reason, ok := usage.IsDenied(err); !ok || reason != usage.ReasonQuotaExceeded {
		t.Fatalf("expected quota denial, got %v", err)
	}
	if completer.lastSeen != nil {
		t.Fatalf("provider must not be called after denial")
	}
	if _, errEmpty := svc.Send(ctx, user.ID, "   "); !errors.Is(errEmpty, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", errEmpty)
	}
}
