// Package chat relays user messages to the AI providers behind the metering gate.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ukschat/ukschat/internal/models"
	"github.com/ukschat/ukschat/internal/usage"
	"gorm.io/gorm"
)

// ErrEmptyMessage is returned when the user sends only whitespace.
var ErrEmptyMessage = errors.New("message is required")

// Completer produces an assistant reply for a prompt.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}

// HistoryEntry is one message in a user's conversation.
type HistoryEntry struct {
	ID        uint64    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Result is the outcome of a successful chat turn.
type Result struct {
	Reply   string         `json:"reply"`
	History []HistoryEntry `json:"history"`
}

// Options tune the chat service.
type Options struct {
	SystemPrompt    string
	ContextMessages int
}

// Service runs chat turns.
type Service struct {
	db        *gorm.DB
	gate      *usage.Gate
	completer Completer
	opts      Options
}

// NewService constructs a chat service.
func NewService(db *gorm.DB, gate *usage.Gate, completer Completer, opts Options) *Service {
	if opts.ContextMessages <= 0 {
		opts.ContextMessages = 10
	}
	return &Service{db: db, gate: gate, completer: completer, opts: opts}
}

// Send runs one chat turn for the user.
//
// The gate is checked before the upstream call and debited after it, together
// with the assistant reply, in one transaction. A failed upstream call leaves
// the user's message stored and the quota untouched.
func (s *Service) Send(ctx context.Context, userID uint64, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	decision, errCheck := s.gate.Check(ctx, userID, usage.DefaultCost)
	if errCheck != nil {
		return nil, errCheck
	}
	if !decision.Allowed {
		return nil, decision.Err()
	}
	sub := decision.Subscription

	userMsg := models.ChatMessage{
		UserID:    userID,
		Role:      models.ChatRoleUser,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	if errCreate := s.db.WithContext(ctx).Omit("User").Create(&userMsg).Error; errCreate != nil {
		return nil, fmt.Errorf("chat: store user message: %w", errCreate)
	}

	contextWindow, errContext := s.recent(ctx, userID, s.opts.ContextMessages)
	if errContext != nil {
		return nil, errContext
	}

	reply, errRelay := s.completer.Complete(ctx, s.opts.SystemPrompt, contextWindow)
	if errRelay != nil {
		return nil, ErrUpstreamFailure
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		assistant := models.ChatMessage{
			UserID:    userID,
			Role:      models.ChatRoleAssistant,
			Content:   reply,
			CreatedAt: time.Now().UTC(),
		}
		if errCreate := tx.Omit("User").Create(&assistant).Error; errCreate != nil {
			return fmt.Errorf("chat: store reply: %w", errCreate)
		}
		return s.gate.Consume(ctx, tx, sub.ID, userID, usage.DefaultCost)
	})
	if errTx != nil {
		return nil, errTx
	}

	history, errHistory := s.History(ctx, userID)
	if errHistory != nil {
		return nil, errHistory
	}
	return &Result{Reply: reply, History: history}, nil
}

// History returns the user's full conversation, oldest first.
func (s *Service) History(ctx context.Context, userID uint64) ([]HistoryEntry, error) {
	var rows []models.ChatMessage
	if errFind := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("chat: history: %w", errFind)
	}
	history := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		history = append(history, HistoryEntry{
			ID:        row.ID,
			Role:      row.Role,
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
		})
	}
	return history, nil
}

// recent returns the last n messages, oldest first.
func (s *Service) recent(ctx context.Context, userID uint64, n int) ([]Message, error) {
	var rows []models.ChatMessage
	if errFind := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(n).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("chat: load context: %w", errFind)
	}
	messages := make([]Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		messages = append(messages, Message{Role: rows[i].Role, Content: rows[i].Content})
	}
	return messages, nil
}
