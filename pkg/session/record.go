package session

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/biocypher/biochatter-server/internal/tracing"
	"github.com/biocypher/biochatter-server/pkg/llm"
)

// DefaultMaxAge is how long a session lives after creation
const DefaultMaxAge = 3 * 24 * time.Hour

// Retriever fetches context passages for a chat query. The vector store and
// knowledge graph packages both satisfy it.
type Retriever interface {
	Connect(ctx context.Context) error
	Retrieve(ctx context.Context, query string) ([]string, error)
}

// Record is one live session: its model parameters, its conversation engine
// and its lifetime bookkeeping. The engine is exclusively owned by the record.
type Record struct {
	SessionID   string
	ModelConfig llm.ModelConfig
	CreatedAt   int64 // unix millis
	RefreshedAt int64 // unix millis, not advanced by chat
	MaxAge      int64 // millis

	conversation llm.Conversation
}

func newRecord(sessionID string, mc llm.ModelConfig, factory llm.Factory, now int64, maxAge time.Duration) (*Record, error) {
	conv, err := factory(mc)
	if err != nil {
		return nil, err
	}

	return &Record{
		SessionID:    sessionID,
		ModelConfig:  mc,
		CreatedAt:    now,
		RefreshedAt:  now,
		MaxAge:       maxAge.Milliseconds(),
		conversation: conv,
	}, nil
}

// Expired reports whether the record's lifetime has elapsed at now (millis)
func (r *Record) Expired(now int64) bool {
	return now > r.RefreshedAt+r.MaxAge
}

// ChatParams carries everything one chat call needs
type ChatParams struct {
	Messages []llm.Message
	AuthKey  string

	// UseRAG asks for vector-store context; Retriever must be set
	UseRAG    bool
	Retriever Retriever

	// UseKG asks for knowledge-graph context
	UseKG       bool
	KGRetriever Retriever
}

// ChatResult is the outcome of one chat call
type ChatResult struct {
	Reply    string
	Usage    llm.Usage
	Contexts []string
}

// Chat replays the supplied history into the engine, augments the final
// message with retrieved contexts when asked, and queries the engine. An
// empty message list is a no-op returning (nil, nil).
func (r *Record) Chat(ctx context.Context, params ChatParams) (*ChatResult, error) {
	if len(params.Messages) == 0 {
		return nil, nil
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_id", r.SessionID).Logger()

	if params.AuthKey != "" {
		r.conversation.SetAPIKey(params.AuthKey, r.SessionID)
	}
	if !r.conversation.HasAPIKey() {
		return nil, llm.ErrAPIKeyRequired
	}

	r.conversation.ClearHistory()
	for _, msg := range params.Messages[:len(params.Messages)-1] {
		switch msg.Role {
		case llm.RoleSystem:
			r.conversation.AppendSystemMessage(msg.Content)
		case llm.RoleAssistant:
			r.conversation.AppendAIMessage(msg.Content)
		case llm.RoleUser:
			r.conversation.AppendUserMessage(msg.Content)
		default:
			logger.Debug().Str("role", msg.Role).Msg("Dropping message with unknown role")
		}
	}

	last := params.Messages[len(params.Messages)-1]

	var contexts []string
	if params.UseRAG && params.Retriever != nil {
		retrieved, err := r.retrieve(ctx, params.Retriever, last.Content)
		if err != nil {
			return nil, err
		}
		contexts = append(contexts, retrieved...)
	}
	if params.UseKG && params.KGRetriever != nil {
		retrieved, err := r.retrieve(ctx, params.KGRetriever, last.Content)
		if err != nil {
			logger.Warn().Err(err).Msg("Knowledge graph retrieval failed, continuing without")
		} else {
			contexts = append(contexts, retrieved...)
		}
	}

	if len(contexts) > 0 {
		r.conversation.AppendSystemMessage(contextsPrompt(contexts))
	}

	reply, usage, err := r.conversation.Query(ctx, last.Content)
	if err != nil {
		logger.Error().Err(err).Str("model", r.ModelConfig.Model).Msg("Engine query failed")
		return nil, err
	}

	return &ChatResult{Reply: reply, Usage: usage, Contexts: contexts}, nil
}

func (r *Record) retrieve(ctx context.Context, retriever Retriever, query string) ([]string, error) {
	if err := retriever.Connect(ctx); err != nil {
		return nil, err
	}
	return retriever.Retrieve(ctx, query)
}

func contextsPrompt(contexts []string) string {
	var b strings.Builder
	b.WriteString("Use the following context passages to answer the user's question:\n")
	for _, c := range contexts {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	return b.String()
}
