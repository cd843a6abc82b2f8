package llm

import "context"

// LLMClient is the chat surface consumed by the assistant and readiness
// checks. *Client implements it; tests substitute fakes.
type LLMClient interface {
	Ping(ctx context.Context) error
	Chat(ctx context.Context, messages []ChatMessage) (string, error)
	ChatStream(ctx context.Context, messages []ChatMessage, onChunk func(StreamChunk) error) error
}

// Compile-time interface conformance
var _ LLMClient = (*Client)(nil)
