package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	// DefaultGeminiModel is used when no model is configured for the Gemini provider.
	DefaultGeminiModel = "gemini-2.5-flash"

	geminiProviderName = "gemini"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	Model string
	// ClientOptions are appended after the API key option, e.g. a custom endpoint.
	ClientOptions []option.ClientOption
}

// GeminiProvider completes prompts with Google's Gemini models.
type GeminiProvider struct {
	model   string
	options []option.ClientOption
}

// NewGeminiProvider constructs the provider.
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiProvider{model: model, options: cfg.ClientOptions}
}

func (p *GeminiProvider) Name() string {
	return geminiProviderName
}

func (p *GeminiProvider) Model() string {
	return p.model
}

// Complete creates a client for the current key, since the key may be rotated at runtime.
func (p *GeminiProvider) Complete(ctx context.Context, apiKey string, prompt Prompt) (string, error) {
	options := append([]option.ClientOption{option.WithAPIKey(apiKey)}, p.options...)
	client, err := genai.NewClient(ctx, options...)
	if err != nil {
		return "", fmt.Errorf("%w: create gemini client: %v", ErrUpstream, err)
	}
	defer client.Close()

	model := client.GenerativeModel(p.model)
	if strings.TrimSpace(prompt.System) != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(prompt.System)}}
	}
	if prompt.Temperature > 0 {
		model.SetTemperature(prompt.Temperature)
	}
	if prompt.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(prompt.MaxTokens))
	}
	if prompt.JSON {
		model.ResponseMIMEType = "application/json"
	}

	response, err := model.GenerateContent(ctx, genai.Text(flattenConversation(prompt.Messages)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	text := responseText(response)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: gemini returned no content", ErrUpstream)
	}
	return text, nil
}

// flattenConversation renders a multi-turn history as "role: content" blocks.
// A single user turn is sent verbatim.
func flattenConversation(messages []Message) string {
	if len(messages) == 1 && messages[0].Role == RoleUser {
		return messages[0].Content
	}
	blocks := make([]string, 0, len(messages))
	for _, message := range messages {
		blocks = append(blocks, message.Role+": "+message.Content)
	}
	return strings.Join(blocks, "\n\n")
}

func responseText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	var builder strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			builder.WriteString(string(text))
		}
	}
	return builder.String()
}
