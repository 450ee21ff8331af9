// Package ai sends single-shot completion requests to hosted language
// models, falling back across providers in registration order.
package ai

import (
	"context"
	"errors"
)

// ErrNoProvider is returned when no provider is registered.
var ErrNoProvider = errors.New("no AI provider configured")

// Message is one turn of a prompt.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// CompletionRequest is the input to an AI completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// System returns the concatenated system messages.
func (r CompletionRequest) System() string {
	var out string
	for _, m := range r.Messages {
		if m.Role != "system" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += m.Content
	}
	return out
}

// CompletionResponse is the output from an AI completion.
type CompletionResponse struct {
	Content      string `json:"content"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Truncated    bool   `json:"truncated,omitempty"` // stopped at MaxTokens
}

// TotalTokens returns the sum of input and output tokens.
func (r CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Provider is the interface all AI providers must implement.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	HealthCheck(ctx context.Context) error
}
