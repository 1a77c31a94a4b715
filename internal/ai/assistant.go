package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Failure kinds reported in result Error fields.
const (
	FailureNotConfigured = "not_configured"
	FailureUpstream      = "upstream_error"
)

// Code assistance request types.
const (
	AssistDebug    = "debug"
	AssistOptimize = "optimize"
	AssistExplain  = "explain"
	AssistGenerate = "generate"
	AssistComplete = "complete"
)

const (
	defaultTimeout = 30 * time.Second

	notConfiguredMessage = "AI service is not configured. Please provide an API key."
	upstreamMessage      = "AI service is temporarily unavailable. Please try again."

	codeTemperature    = 0.7
	codeMaxTokens      = 2048
	chatTemperature    = 0.8
	chatMaxTokens      = 1500
	contentTemperature = 0.9
	contentMaxTokens   = 500
)

// ErrInvalidRequest indicates a malformed assistance or chat request.
var ErrInvalidRequest = errors.New("ai: invalid request")

var (
	descriptionPattern = regexp.MustCompile(`(?i)description:\s*(.+?)(?:\n|duration:|$)`)
	durationPattern    = regexp.MustCompile(`(?i)duration:\s*(.+?)(?:\n|$)`)
)

var systemPrompts = map[string]string{
	AssistDebug:    "You are an expert code debugger. Analyze the provided code, identify issues, and provide clear solutions with explanations.",
	AssistOptimize: "You are a code optimization expert. Analyze the provided code and suggest improvements for performance, readability, and maintainability.",
	AssistExplain:  "You are a code educator. Explain the provided code in detail, breaking down its functionality and patterns.",
	AssistGenerate: "You are a code generator. Create high-quality, well-documented code based on the requirements provided.",
	AssistComplete: "You are a code completion assistant. Complete the provided code snippet with proper syntax and logic.",
}

const codeResponseFormat = ` Respond with a JSON object: {"suggestion": string, "improvedCode": string, "explanation": string}.`

const chatSystemPrompt = `You are an AI coding assistant for a programming education platform. You help developers learn, debug, and improve their code.
Be accurate and encouraging. Provide practical code examples and always name the programming language.
Explain complex concepts in simple terms.`

const contentSystemPrompt = "You are an educational content creator. Generate engaging course descriptions and realistic duration estimates for programming courses."

// AssistantConfig wires the assistant to a provider and credential source.
type AssistantConfig struct {
	Provider    Provider
	Credentials Credentials
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Assistant exposes the AI operations. Provider failures are reported in results, never as errors.
type Assistant struct {
	provider    Provider
	credentials Credentials
	timeout     time.Duration
	logger      *zap.Logger
}

// CodeAssistanceRequest asks for help with a piece of code.
type CodeAssistanceRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Type     string `json:"type"`
	Question string `json:"question,omitempty"`
}

// CodeAssistanceResult is the structured assistance outcome.
type CodeAssistanceResult struct {
	Success      bool   `json:"success"`
	Suggestion   string `json:"suggestion"`
	Explanation  string `json:"explanation"`
	ImprovedCode string `json:"improvedCode,omitempty"`
	Error        string `json:"error,omitempty"`
	Message      string `json:"message,omitempty"`
}

// ChatResult is the assistant's reply to a conversation.
type ChatResult struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// CourseContent is a generated or template description and duration for a course.
type CourseContent struct {
	Description string `json:"description"`
	Duration    string `json:"duration"`
	Generated   bool   `json:"generated"`
}

// Status reports whether the assistant can reach its provider.
type Status struct {
	Configured bool   `json:"configured"`
	Provider   string `json:"provider"`
	Service    string `json:"service"`
	Message    string `json:"message"`
}

// NewAssistant constructs the assistant.
func NewAssistant(cfg AssistantConfig) (*Assistant, error) {
	if cfg.Provider == nil {
		return nil, errors.New("ai: provider is required")
	}
	credentials := cfg.Credentials
	if credentials == nil {
		credentials = NewKeyStore("")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assistant{
		provider:    cfg.Provider,
		credentials: credentials,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

// Status describes the configured provider.
func (a *Assistant) Status() Status {
	configured := a.credentials.Configured()
	message := "AI service is ready"
	if !configured {
		message = "Please provide an API key to enable AI features"
	}
	return Status{
		Configured: configured,
		Provider:   a.provider.Name(),
		Service:    a.provider.Model(),
		Message:    message,
	}
}

// UpdateAPIKey replaces the provider key at runtime.
func (a *Assistant) UpdateAPIKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: api key is required", ErrInvalidRequest)
	}
	a.credentials.SetAPIKey(key)
	a.logger.Info("ai api key updated", zap.String("provider", a.provider.Name()))
	return nil
}

// CodeAssistance asks the provider to debug, optimize, explain, generate or complete code.
func (a *Assistant) CodeAssistance(ctx context.Context, request CodeAssistanceRequest) (CodeAssistanceResult, error) {
	systemPrompt, ok := systemPrompts[request.Type]
	if !ok {
		return CodeAssistanceResult{}, fmt.Errorf("%w: unknown assistance type %q", ErrInvalidRequest, request.Type)
	}
	language := strings.TrimSpace(request.Language)
	if language == "" {
		return CodeAssistanceResult{}, fmt.Errorf("%w: language is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(request.Code) == "" && strings.TrimSpace(request.Question) == "" {
		return CodeAssistanceResult{}, fmt.Errorf("%w: code or question is required", ErrInvalidRequest)
	}

	content, failure := a.complete(ctx, "code_assistance", Prompt{
		System:      systemPrompt + codeResponseFormat,
		Messages:    []Message{{Role: RoleUser, Content: codeAssistancePrompt(request.Type, language, request.Code, request.Question)}},
		Temperature: codeTemperature,
		MaxTokens:   codeMaxTokens,
		JSON:        true,
	})
	if failure != "" {
		return CodeAssistanceResult{Success: false, Error: failure, Message: failureMessage(failure)}, nil
	}
	return parseCodeAssistance(content), nil
}

// Chat continues a conversation and returns the assistant's reply.
func (a *Assistant) Chat(ctx context.Context, messages []Message) (ChatResult, error) {
	if len(messages) == 0 {
		return ChatResult{}, fmt.Errorf("%w: at least one message is required", ErrInvalidRequest)
	}
	for index, message := range messages {
		if message.Role != RoleUser && message.Role != RoleAssistant && message.Role != RoleSystem {
			return ChatResult{}, fmt.Errorf("%w: message %d has unknown role %q", ErrInvalidRequest, index, message.Role)
		}
	}

	content, failure := a.complete(ctx, "chat", Prompt{
		System:      chatSystemPrompt,
		Messages:    messages,
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	})
	if failure != "" {
		return ChatResult{Success: false, Error: failure, Message: failureMessage(failure)}, nil
	}
	return ChatResult{Success: true, Content: content}, nil
}

// GenerateCourseContent drafts a description and duration. When the provider is unavailable
// or its answer cannot be parsed, a template description and a level-based duration are returned.
func (a *Assistant) GenerateCourseContent(ctx context.Context, title, level, category string) CourseContent {
	fallback := CourseContent{
		Description: fmt.Sprintf("Learn %s with this comprehensive %s-level course. Master essential concepts and build practical projects.", strings.ToLower(title), level),
		Duration:    durationForLevel(level),
	}

	content, failure := a.complete(ctx, "course_content", Prompt{
		System: contentSystemPrompt,
		Messages: []Message{{Role: RoleUser, Content: fmt.Sprintf(
			"Create a course description and duration estimate for a %s-level %s course titled %q.\n"+
				"Answer in two lines:\nDescription: <2-3 engaging sentences focused on practical outcomes>\nDuration: <realistic estimate such as 2h 30m>",
			level, category, title)}},
		Temperature: contentTemperature,
		MaxTokens:   contentMaxTokens,
	})
	if failure != "" {
		return fallback
	}

	descriptionMatch := descriptionPattern.FindStringSubmatch(content)
	durationMatch := durationPattern.FindStringSubmatch(content)
	if descriptionMatch != nil && durationMatch != nil {
		return CourseContent{
			Description: strings.TrimSpace(descriptionMatch[1]),
			Duration:    strings.TrimSpace(durationMatch[1]),
			Generated:   true,
		}
	}
	firstLine := strings.TrimSpace(strings.SplitN(strings.TrimSpace(content), "\n", 2)[0])
	if firstLine == "" {
		return fallback
	}
	return CourseContent{Description: firstLine, Duration: fallback.Duration, Generated: true}
}

// complete runs the prompt under the configured timeout and returns either content or a failure kind.
func (a *Assistant) complete(ctx context.Context, operation string, prompt Prompt) (string, string) {
	apiKey := a.credentials.APIKey()
	if apiKey == "" {
		return "", FailureNotConfigured
	}
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	started := time.Now()
	content, err := a.provider.Complete(callCtx, apiKey, prompt)
	if err != nil {
		a.logger.Warn("ai provider call failed",
			zap.String("operation", operation),
			zap.String("provider", a.provider.Name()),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return "", FailureUpstream
	}
	a.logger.Debug("ai provider call completed",
		zap.String("operation", operation),
		zap.String("provider", a.provider.Name()),
		zap.Duration("elapsed", time.Since(started)))
	return content, ""
}

func codeAssistancePrompt(kind, language, code, question string) string {
	if strings.TrimSpace(question) != "" {
		return fmt.Sprintf("%s\n\nCode (%s):\n%s", question, language, code)
	}
	return fmt.Sprintf("Please %s this %s code:\n\n%s", kind, language, code)
}

type codeAssistancePayload struct {
	Suggestion   string `json:"suggestion"`
	ImprovedCode string `json:"improvedCode"`
	Explanation  string `json:"explanation"`
}

// parseCodeAssistance accepts a JSON answer, optionally fenced, and falls back to treating
// the whole reply as the suggestion.
func parseCodeAssistance(content string) CodeAssistanceResult {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")

	var payload codeAssistancePayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(trimmed)), &payload); err == nil && (payload.Suggestion != "" || payload.Explanation != "") {
		return CodeAssistanceResult{
			Success:      true,
			Suggestion:   payload.Suggestion,
			Explanation:  payload.Explanation,
			ImprovedCode: payload.ImprovedCode,
		}
	}
	return CodeAssistanceResult{Success: true, Suggestion: strings.TrimSpace(content)}
}

func failureMessage(failure string) string {
	if failure == FailureNotConfigured {
		return notConfiguredMessage
	}
	return upstreamMessage
}

func durationForLevel(level string) string {
	switch level {
	case "beginner":
		return "2h 30m"
	case "intermediate":
		return "3h 45m"
	default:
		return "5h 20m"
	}
}
