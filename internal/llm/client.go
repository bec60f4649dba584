// Package llm provides completion client interfaces and implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for the provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PromptRequest wraps a single composed prompt as a user turn.
func PromptRequest(prompt string) *CompletionRequest {
	return &CompletionRequest{
		Messages: []ChatMessage{{Role: "user", Content: prompt}},
	}
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for completion providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of completion provider.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a completion client for the provider. An empty model
// selects the provider default.
func NewClient(ctx context.Context, provider Provider, apiKey, model string) (Client, error) {
	switch Provider(strings.ToLower(string(provider))) {
	case ProviderGemini, "":
		return NewGeminiClient(ctx, apiKey, model)
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, model)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

func defaultMaxTokens(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
