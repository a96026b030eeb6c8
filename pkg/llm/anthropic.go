package llm

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 2000

// AnthropicConversation implements Conversation for Claude models. Like the
// standard hosted engine, the key is caller-supplied per request.
type AnthropicConversation struct {
	history
	mc     ModelConfig
	client anthropic.Client
	hasKey bool
}

// NewAnthropicConversation creates a Claude conversation engine
func NewAnthropicConversation(mc ModelConfig) *AnthropicConversation {
	c := &AnthropicConversation{mc: mc}
	if mc.AuthKey != "" {
		c.SetAPIKey(mc.AuthKey, "")
	}
	return c
}

// HasAPIKey reports whether a key has been installed
func (c *AnthropicConversation) HasAPIKey() bool {
	return c.hasKey
}

// SetAPIKey installs a caller-supplied key and rebuilds the client
func (c *AnthropicConversation) SetAPIKey(key, user string) {
	c.client = anthropic.NewClient(option.WithAPIKey(key))
	c.hasKey = true
}

// Query issues text as the next user turn and records the reply
func (c *AnthropicConversation) Query(ctx context.Context, text string) (string, Usage, error) {
	if !c.hasKey {
		return "", Usage{}, ErrAPIKeyRequired
	}

	c.AppendUserMessage(text)

	// System turns go into the dedicated system field.
	system := []anthropic.TextBlockParam{}
	messages := []anthropic.MessageParam{}
	for _, msg := range c.messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case RoleAssistant:
			messages = append(messages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.mc.Model),
		Messages:    messages,
		MaxTokens:   anthropicMaxTokens,
		Temperature: anthropic.Float(c.mc.Temperature),
	}
	if len(system) > 0 {
		params.System = system
	}

	response, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", Usage{}, err
	}

	reply := ""
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			reply += b.Text
		}
	}
	c.AppendAIMessage(reply)

	return reply, Usage{
		PromptTokens:     int(response.Usage.InputTokens),
		CompletionTokens: int(response.Usage.OutputTokens),
		TotalTokens:      int(response.Usage.InputTokens + response.Usage.OutputTokens),
	}, nil
}
