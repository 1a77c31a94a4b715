// Package ai proxies code assistance, chat and course content generation to a hosted LLM.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Message roles understood by providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrUpstream wraps every failure reported by a provider: transport errors, non-2xx
// responses and bodies without usable content.
var ErrUpstream = errors.New("ai: upstream failure")

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is a provider-neutral completion request.
type Prompt struct {
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	// JSON asks the provider for a JSON document when it supports a structured response mode.
	JSON bool
}

// Provider performs a single completion against a hosted model.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, apiKey string, prompt Prompt) (string, error)
}

// ProviderConfig selects and configures a provider by name.
type ProviderConfig struct {
	Name    string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewProvider builds the provider named by cfg.Name ("together" or "gemini").
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "", chatCompletionsProviderName:
		var client *http.Client
		if cfg.Timeout > 0 {
			client = &http.Client{Timeout: cfg.Timeout}
		}
		return NewChatCompletionsProvider(ChatCompletionsConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			HTTPClient: client,
		}), nil
	case geminiProviderName:
		return NewGeminiProvider(GeminiConfig{Model: cfg.Model}), nil
	default:
		return nil, fmt.Errorf("ai: unknown provider %q", cfg.Name)
	}
}
