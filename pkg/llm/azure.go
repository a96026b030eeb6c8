package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
)

// AzureConversation implements Conversation on an enterprise-hosted Azure
// OpenAI deployment. Credentials come from server configuration; callers
// never supply a key.
type AzureConversation struct {
	history
	mc         ModelConfig
	deployment string
	client     openai.Client
}

// NewAzureConversation creates a hosted-enterprise conversation engine
func NewAzureConversation(settings EngineSettings, mc ModelConfig) (*AzureConversation, error) {
	if settings.Endpoint == "" {
		return nil, fmt.Errorf("azure endpoint is required")
	}
	if settings.DeploymentName == "" {
		return nil, fmt.Errorf("azure deployment name is required")
	}
	if settings.APIKey == "" {
		return nil, fmt.Errorf("azure api key is required")
	}

	client := openai.NewClient(
		azure.WithEndpoint(settings.Endpoint, settings.APIVersion),
		option.WithAPIKey(settings.APIKey),
	)

	return &AzureConversation{
		mc:         mc,
		deployment: settings.DeploymentName,
		client:     client,
	}, nil
}

// HasAPIKey always reports true; the key is part of the deployment
func (c *AzureConversation) HasAPIKey() bool {
	return true
}

// SetAPIKey is a no-op; the deployment key is fixed at construction
func (c *AzureConversation) SetAPIKey(key, user string) {}

// Query issues text as the next user turn and records the reply
func (c *AzureConversation) Query(ctx context.Context, text string) (string, Usage, error) {
	c.AppendUserMessage(text)

	params := openai.ChatCompletionNewParams{
		Model:            openai.ChatModel(c.deployment),
		Messages:         toOpenAIMessages(c.messages),
		Temperature:      openai.Float(c.mc.Temperature),
		PresencePenalty:  openai.Float(c.mc.PresencePenalty),
		FrequencyPenalty: openai.Float(c.mc.FrequencyPenalty),
		TopP:             openai.Float(c.mc.TopP),
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
