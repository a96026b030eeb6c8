package llm

import (
	"context"
	"strings"
)

// EmbeddedConversation implements Conversation for the offline model. No
// remote call is made: the engine assembles the full prompt from its history
// and returns it for client-side execution, mirroring the wasm-hosted model
// the server originally shipped.
type EmbeddedConversation struct {
	history
	mc ModelConfig
}

// NewEmbeddedConversation creates an offline conversation engine
func NewEmbeddedConversation(mc ModelConfig) *EmbeddedConversation {
	return &EmbeddedConversation{mc: mc}
}

// HasAPIKey always reports true; the offline engine needs no credentials
func (c *EmbeddedConversation) HasAPIKey() bool {
	return true
}

// SetAPIKey is a no-op for the offline engine
func (c *EmbeddedConversation) SetAPIKey(key, user string) {}

// Query assembles the prompt from history plus text and returns it
func (c *EmbeddedConversation) Query(ctx context.Context, text string) (string, Usage, error) {
	if err := ctx.Err(); err != nil {
		return "", Usage{}, err
	}

	c.AppendUserMessage(text)

	var sb strings.Builder
	for _, msg := range c.messages {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	prompt := sb.String()

	c.AppendAIMessage(prompt)

	promptTokens := EstimateTokens(c.messages[:len(c.messages)-1])
	completionTokens := EstimateTokens(c.messages[len(c.messages)-1:])
	return prompt, Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}, nil
}
