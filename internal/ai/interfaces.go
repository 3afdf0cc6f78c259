package ai

import (
	"context"
)

// ChatMessage represents a message in a chat conversation
type ChatMessage struct {
	Role    string // "system" or "user"
	Content string
}

// ChatConfig holds configuration for chat completions
type ChatConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// ChatProvider defines the interface for text-to-text chat completions
// (used for briefing generation)
type ChatProvider interface {
	// ChatCompletion sends a conversation to the LLM and returns the text response
	ChatCompletion(ctx context.Context, messages []ChatMessage, config ChatConfig) (string, error)
}
