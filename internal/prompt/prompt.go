package prompt

import (
	"strings"

	"github.com/rag4all/ragchat/internal/docstore"
	"github.com/rag4all/ragchat/internal/llm"
)

// HistoryWindow caps how much conversation history rides along with a
// generation request.
const HistoryWindow = 10

const baseInstruction = "You are a helpful AI assistant that provides informative responses."

const contextInstructions = `Use this contextual information when relevant to provide accurate and helpful answers.
If the user question is about information in the context, answer primarily based on the context.
If the context doesn't contain information to answer the question, say so and provide your best response based on your knowledge.
Don't explicitly mention that you're using context in your response unless asked about your sources.`

// SystemMessage renders the single system message that leads every request:
// the base instruction alone, or the base instruction plus the retrieved
// context block and the rules for using it.
func SystemMessage(retrieved []docstore.SearchResult) llm.Message {
	if len(retrieved) == 0 {
		return llm.Message{Role: "system", Content: baseInstruction}
	}

	contents := make([]string, 0, len(retrieved))
	for _, r := range retrieved {
		contents = append(contents, r.Content)
	}

	var b strings.Builder
	b.WriteString(baseInstruction)
	b.WriteString("\n\nYou have access to the following context information from the user's documents:\n---\n")
	b.WriteString(strings.Join(contents, "\n\n"))
	b.WriteString("\n---\n\n")
	b.WriteString(contextInstructions)
	return llm.Message{Role: "system", Content: b.String()}
}

// BuildMessages assembles the message sequence for a generation call: one
// system message, then at most the HistoryWindow most recent history entries
// oldest-first, then the prompt as a final user message. The prompt is not
// appended again when the caller already recorded it as the last history
// entry. Role alternation beyond that ordering is not enforced.
func BuildMessages(prompt string, history []llm.Message, retrieved []docstore.SearchResult) []llm.Message {
	out := make([]llm.Message, 0, HistoryWindow+2)
	out = append(out, SystemMessage(retrieved))

	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}
	out = append(out, history...)

	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Role == "user" && last.Content == prompt {
			return out
		}
	}
	return append(out, llm.Message{Role: "user", Content: prompt})
}
