// Package llm defines the opaque language-model provider interface used by
// the summarization pipeline (spec §4 supplemented features), so that
// pipeline never depends on a specific vendor SDK.
package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by a Provider when no API credential has
// been supplied, mapping to models.SummaryStatusNotConfigured.
var ErrNotConfigured = errors.New("llm: provider not configured")

// Message is one turn of a chat-style completion request.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// CompletionRequest is a single text-completion call.
type CompletionRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is the provider's reply.
type CompletionResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider is implemented by each concrete LLM backend (currently Anthropic).
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
