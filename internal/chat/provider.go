package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/ukschat/ukschat/internal/config"
)

// maxErrorBody caps how much of an upstream error body is logged.
const maxErrorBody = 512

// Message is one entry of the prompt sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider completes a conversation.
type Provider interface {
	Name() string
	Complete(ctx context.Context, messages []Message) (string, error)
}

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	name        string
	url         string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

// NewOpenAIProvider constructs a provider from cfg. The client's timeout is
// left to the caller's context.
func NewOpenAIProvider(cfg config.ProviderConfig, client *http.Client) *OpenAIProvider {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "openai"
	}
	return &OpenAIProvider{
		name:        name,
		url:         strings.TrimSpace(cfg.URL),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       strings.TrimSpace(cfg.Model),
		temperature: cfg.Temperature,
		client:      client,
	}
}

// Name returns the provider label used in logs and metrics.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Complete posts the messages and returns the first choice's content.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	if p.url == "" || p.apiKey == "" {
		return "", fmt.Errorf("%s: provider not configured", p.name)
	}
	payload, errBuild := buildRequestBody(p.model, p.temperature, messages)
	if errBuild != nil {
		return "", fmt.Errorf("%s: build body: %w", p.name, errBuild)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", p.name, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("chat provider: close response body failed")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%s: read response: %w", p.name, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet := body
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return "", fmt.Errorf("%s: unexpected status %d: %s", p.name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("%s: response missing choices", p.name)
	}
	reply := strings.TrimSpace(content.String())
	if reply == "" {
		return "", errors.New(p.name + ": empty reply")
	}
	return reply, nil
}

func buildRequestBody(model string, temperature float64, messages []Message) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	if body, err = sjson.SetBytes(body, "model", model); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "messages", messages); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "temperature", temperature); err != nil {
		return nil, err
	}
	return body, nil
}
