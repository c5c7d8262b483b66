package chat

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrUpstreamFailure is returned when every provider failed.
var ErrUpstreamFailure = errors.New("AI service temporarily unavailable")

// ProviderRecorder observes provider attempts.
type ProviderRecorder interface {
	ProviderAttempt(provider string, ok bool, elapsed time.Duration)
}

// Relay tries its providers in order and returns the first successful reply.
type Relay struct {
	providers []Provider
	timeout   time.Duration
	recorder  ProviderRecorder
}

// NewRelay constructs a relay. Nil providers are skipped.
func NewRelay(timeout time.Duration, providers ...Provider) *Relay {
	list := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			list = append(list, p)
		}
	}
	return &Relay{providers: list, timeout: timeout}
}

// WithRecorder sets the provider attempt recorder.
func (r *Relay) WithRecorder(recorder ProviderRecorder) *Relay {
	r.recorder = recorder
	return r
}

// Complete sends the system prompt and messages to each provider in turn.
func (r *Relay) Complete(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	prompt := make([]Message, 0, len(messages)+1)
	if systemPrompt != "" {
		prompt = append(prompt, Message{Role: "system", Content: systemPrompt})
	}
	prompt = append(prompt, messages...)

	for _, provider := range r.providers {
		if ctx.Err() != nil {
			break
		}
		reply, err := r.attempt(ctx, provider, prompt)
		if err == nil {
			return reply, nil
		}
		log.WithError(err).WithField("provider", provider.Name()).Warn("chat relay: provider failed")
	}
	return "", ErrUpstreamFailure
}

func (r *Relay) attempt(ctx context.Context, provider Provider, prompt []Message) (string, error) {
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	start := time.Now()
	reply, err := provider.Complete(callCtx, prompt)
	if r.recorder != nil {
		r.recorder.ProviderAttempt(provider.Name(), err == nil, time.Since(start))
	}
	return reply, err
}
