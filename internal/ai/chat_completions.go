package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultChatCompletionsBaseURL points at the Together API.
	DefaultChatCompletionsBaseURL = "https://api.together.xyz/v1"
	// DefaultChatCompletionsModel is the coding model served by Together.
	DefaultChatCompletionsModel = "Qwen/Qwen2.5-Coder-32B-Instruct"

	chatCompletionsProviderName = "together"
	maxErrorBodyBytes           = 2048
)

// ChatCompletionsConfig configures an OpenAI-compatible provider.
type ChatCompletionsConfig struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// ChatCompletionsProvider talks to any OpenAI-compatible /chat/completions endpoint.
type ChatCompletionsProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// NewChatCompletionsProvider constructs the provider, applying the Together defaults.
func NewChatCompletionsProvider(cfg ChatCompletionsConfig) *ChatCompletionsProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultChatCompletionsBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultChatCompletionsModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &ChatCompletionsProvider{baseURL: baseURL, model: model, client: client}
}

func (p *ChatCompletionsProvider) Name() string {
	return chatCompletionsProviderName
}

func (p *ChatCompletionsProvider) Model() string {
	return p.model
}

// Complete sends the prompt as a non-streaming chat completion and returns the first choice.
func (p *ChatCompletionsProvider) Complete(ctx context.Context, apiKey string, prompt Prompt) (string, error) {
	messages := make([]Message, 0, len(prompt.Messages)+1)
	if strings.TrimSpace(prompt.System) != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: prompt.System})
	}
	messages = append(messages, prompt.Messages...)

	payload, err := json.Marshal(chatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode chat completion request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build chat completion request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+apiKey)

	response, err := p.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return "", fmt.Errorf("%w: status %d: %s", ErrUpstream, response.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: response carried no content", ErrUpstream)
	}
	return decoded.Choices[0].Message.Content, nil
}
