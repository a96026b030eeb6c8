// Package llm provides the stateful conversation engines behind chat sessions.
//
// Invariants:
// - Engine variant is chosen once at construction, never re-checked on the chat path.
// - A Conversation is exclusively owned by one session record.
// - Query errors are returned to the caller untouched.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Role names accepted during history replay.
const (
	RoleSystem    = "system"
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// ErrAPIKeyRequired is returned when an engine needs a caller-supplied key
// and none has been configured.
var ErrAPIKeyRequired = errors.New("api key required but not configured")

// Message is a single conversation turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage tracks token consumption reported by an engine
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelConfig carries the per-session model parameters captured at creation
type ModelConfig struct {
	Model            string  `json:"model"`
	Temperature      float64 `json:"temperature"`
	PresencePenalty  float64 `json:"presence_penalty"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	TopP             float64 `json:"top_p"`
	AuthKey          string  `json:"-"`
}

// DefaultModelConfig returns the model parameters used when a chat call
// arrives for a session that was never explicitly initialized.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Model:            "gpt-3.5-turbo",
		Temperature:      0.7,
		PresencePenalty:  0,
		FrequencyPenalty: 0,
		TopP:             1,
	}
}

// Conversation is a stateful engine holding message history and producing
// replies. Implementations are not safe for concurrent use; callers must not
// invoke the same conversation from two goroutines at once.
type Conversation interface {
	// ClearHistory drops all accumulated turns
	ClearHistory()

	// AppendSystemMessage adds a system turn to the history
	AppendSystemMessage(content string)

	// AppendUserMessage adds a user turn to the history
	AppendUserMessage(content string)

	// AppendAIMessage adds an assistant turn to the history
	AppendAIMessage(content string)

	// HistoryLen returns the number of accumulated turns
	HistoryLen() int

	// HasAPIKey reports whether the engine can query without a caller key
	HasAPIKey() bool

	// SetAPIKey installs a caller-supplied key; user identifies the session
	SetAPIKey(key, user string)

	// Query appends text as a user turn, issues it to the backing model and
	// appends the reply as an assistant turn
	Query(ctx context.Context, text string) (string, Usage, error)
}

// EngineSettings selects and configures the engine variant. It mirrors the
// server-side environment; per-session parameters travel in ModelConfig.
type EngineSettings struct {
	APIType        string // "azure" switches to the hosted-enterprise engine
	APIKey         string
	Endpoint       string
	DeploymentName string
	Model          string
	APIVersion     string
	EmbeddedModel  string // model name that selects the offline engine
}

// Factory constructs a conversation engine for a session. Construction
// failures must leave no observable state behind.
type Factory func(mc ModelConfig) (Conversation, error)

// NewConversation selects the engine variant from settings and model name:
// Azure-hosted when APIType is "azure", the embedded offline engine when the
// model matches EmbeddedModel, Anthropic for claude models, and the standard
// hosted API otherwise.
func NewConversation(settings EngineSettings, mc ModelConfig) (Conversation, error) {
	switch {
	case settings.APIType == "azure":
		return NewAzureConversation(settings, mc)
	case settings.EmbeddedModel != "" && mc.Model == settings.EmbeddedModel:
		return NewEmbeddedConversation(mc), nil
	case strings.HasPrefix(mc.Model, "claude"):
		return NewAnthropicConversation(mc), nil
	default:
		return NewOpenAIConversation(mc), nil
	}
}

// NewFactory binds settings into a Factory usable by the session store.
func NewFactory(settings EngineSettings) Factory {
	return func(mc ModelConfig) (Conversation, error) {
		return NewConversation(settings, mc)
	}
}

// history is the in-memory turn log shared by all engine variants
type history struct {
	messages []Message
}

func (h *history) ClearHistory() {
	h.messages = h.messages[:0]
}

func (h *history) AppendSystemMessage(content string) {
	h.messages = append(h.messages, Message{Role: RoleSystem, Content: content})
}

func (h *history) AppendUserMessage(content string) {
	h.messages = append(h.messages, Message{Role: RoleUser, Content: content})
}

func (h *history) AppendAIMessage(content string) {
	h.messages = append(h.messages, Message{Role: RoleAssistant, Content: content})
}

func (h *history) HistoryLen() int {
	return len(h.messages)
}

// EstimateTokens provides a rough token count estimation
func EstimateTokens(messages []Message) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Content)
	}
	// Rough estimation: 1 token ≈ 4 characters
	return (totalChars + 3) / 4
}
