// Package llm provides access to the language-model service used for both
// conversational replies and constrained yes/no classifications.
package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	Model    string
	System   string
	Messages []Message
	// MaxTokens caps the completion length; zero means provider default.
	MaxTokens int64
	// Temperature below zero means provider default. Classifications pin
	// it to zero for determinism.
	Temperature float64
}

// Response carries the completion text.
type Response struct {
	Text string
}

// Client is the language-model contract consumed by the call engine.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
