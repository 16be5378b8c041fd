package llm

import (
	"context"
	"fmt"
)

// GenerateOrError wraps a provider call in the inline-error contract: any
// transport, status or decode failure comes back as a human-readable string
// instead of an error, so the caller can render it like a normal reply.
func GenerateOrError(ctx context.Context, p Provider, messages []Message, opts Options) string {
	if p == nil {
		return "Error: no generation provider is configured.\n\nPlease make sure your API key is correctly set in the .env file."
	}
	reply, err := p.Chat(ctx, messages, opts)
	if err != nil {
		return fmt.Sprintf("Error: %v\n\nPlease make sure your API key is correctly set in the .env file.", err)
	}
	return reply
}
