// Package ai wraps the chat-completion backends used for note drafting.
package ai

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions carries sampling settings. A nil Temperature or zero MaxTokens
// leaves the backend default.
type ChatOptions struct {
	Temperature *float64
	MaxTokens   int
}

// Float returns a pointer to v, for ChatOptions.Temperature.
func Float(v float64) *float64 { return &v }

// Provider returns the assistant reply for one non-streaming chat turn.
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}
