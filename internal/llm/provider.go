package llm

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are the generation parameters forwarded to the completion API.
// Model may override the provider's configured default.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
}

func DefaultOptions() Options {
	return Options{Temperature: 0.7, MaxTokens: 1000, TopP: 0.9}
}

// Provider issues a single synchronous completion request. No retries: one
// attempt per call is the documented behavior.
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
}

// StreamProvider is optional; providers may also support streaming chat.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message, opts Options) (<-chan string, <-chan error)
}
