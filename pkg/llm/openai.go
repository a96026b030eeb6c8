package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConversation implements Conversation on the standard hosted API.
// The API key arrives per request via the Authorization header and must be
// installed with SetAPIKey before the first Query.
type OpenAIConversation struct {
	history
	mc     ModelConfig
	client openai.Client
	hasKey bool
	user   string
}

// NewOpenAIConversation creates a standard hosted conversation engine
func NewOpenAIConversation(mc ModelConfig) *OpenAIConversation {
	c := &OpenAIConversation{mc: mc}
	if mc.AuthKey != "" {
		c.SetAPIKey(mc.AuthKey, "")
	}
	return c
}

// HasAPIKey reports whether a key has been installed
func (c *OpenAIConversation) HasAPIKey() bool {
	return c.hasKey
}

// SetAPIKey installs a caller-supplied key and rebuilds the client
func (c *OpenAIConversation) SetAPIKey(key, user string) {
	c.client = openai.NewClient(option.WithAPIKey(key))
	c.hasKey = true
	c.user = user
}

// Query issues text as the next user turn and records the reply
func (c *OpenAIConversation) Query(ctx context.Context, text string) (string, Usage, error) {
	if !c.hasKey {
		return "", Usage{}, ErrAPIKeyRequired
	}

	c.AppendUserMessage(text)

	params := openai.ChatCompletionNewParams{
		Model:            openai.ChatModel(c.mc.Model),
		Messages:         toOpenAIMessages(c.messages),
		Temperature:      openai.Float(c.mc.Temperature),
		PresencePenalty:  openai.Float(c.mc.PresencePenalty),
		FrequencyPenalty: openai.Float(c.mc.FrequencyPenalty),
		TopP:             openai.Float(c.mc.TopP),
	}
	if c.user != "" {
		params.User = openai.String(c.user)
	}

	response, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", Usage{}, err
	}
	if len(response.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("no response choices returned")
	}

	reply := response.Choices[0].Message.Content
	c.AppendAIMessage(reply)

	return reply, Usage{
		PromptTokens:     int(response.Usage.PromptTokens),
		CompletionTokens: int(response.Usage.CompletionTokens),
		TotalTokens:      int(response.Usage.TotalTokens),
	}, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
