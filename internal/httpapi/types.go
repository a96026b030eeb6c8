package httpapi

import (
	"encoding/json"

	"github.com/biocypher/biochatter-server/pkg/kg"
	"github.com/biocypher/biochatter-server/pkg/llm"
	"github.com/biocypher/biochatter-server/pkg/vectorstore"
)

// Error codes returned in JSON bodies. A closed enumeration: collaborator
// failures must map onto one of these.
const (
	CodeOK                  = 0
	CodeMilvusConnectFailed = 1
	CodeMilvusUnknown       = 2
	CodeUnknown             = 3
)

// ErrMilvusConnect is the fixed message paired with CodeMilvusConnectFailed
const ErrMilvusConnect = "Failed to connect to Milvus server"

// ChatRequest is the /v1/chat/completions body. Unset model parameters fall
// back to the session defaults.
type ChatRequest struct {
	SessionID        string          `json:"session_id"`
	Messages         []llm.Message   `json:"messages"`
	Model            string          `json:"model"`
	Temperature      *float64        `json:"temperature"`
	PresencePenalty  *float64        `json:"presence_penalty"`
	FrequencyPenalty *float64        `json:"frequency_penalty"`
	TopP             *float64        `json:"top_p"`
	Stream           bool            `json:"stream"`     // accepted, ignored
	RagConfig        json.RawMessage `json:"ragConfig"`  // string or object
	UseRAG           bool            `json:"useRAG"`
	KGConfig         *kg.Config      `json:"kgConfig"`
	UseKG            bool            `json:"useKG"`
	OncoKBConfig     json.RawMessage `json:"oncokbConfig"` // accepted, ignored
	UseAutoAgent     bool            `json:"useAutoAgent"` // accepted, ignored
}

// ChatChoice mirrors the OpenAI chat completion choice shape
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      llm.Message `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatResponse is the success body of /v1/chat/completions
type ChatResponse struct {
	Choices  []ChatChoice `json:"choices"`
	Usage    llm.Usage    `json:"usage"`
	Contexts []string     `json:"contexts"`
	Code     int          `json:"code"`
}

// ErrorResponse is the failure body of every endpoint
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// NewDocumentRequest is the /v1/rag/newdocument body. RagConfig arrives as a
// JSON string and is schema-validated before use.
type NewDocumentRequest struct {
	TmpFile   string `json:"tmpFile"`
	Filename  string `json:"filename"`
	RagConfig string `json:"ragConfig"`
}

// NewDocumentResponse carries the stored document id
type NewDocumentResponse struct {
	ID   string `json:"id"`
	Code int    `json:"code"`
}

// AllDocumentsRequest is the /v1/rag/alldocuments body
type AllDocumentsRequest struct {
	ConnectionArgs vectorstore.ConnectionArgs `json:"connectionArgs"`
	DocIDs         []string                   `json:"docIds"`
}

// AllDocumentsResponse lists the stored documents
type AllDocumentsResponse struct {
	Documents []vectorstore.DocumentInfo `json:"documents"`
	Code      int                        `json:"code"`
}

// RemoveDocumentRequest is the /v1/rag/document DELETE body
type RemoveDocumentRequest struct {
	ConnectionArgs vectorstore.ConnectionArgs `json:"connectionArgs"`
	DocID          string                     `json:"docId"`
	DocIDs         []string                   `json:"docIds"`
}

// RemoveDocumentResponse acknowledges a deletion
type RemoveDocumentResponse struct {
	ID   string `json:"id"`
	Code int    `json:"code"`
}

// ConnectionStatusRequest is the body of both connectionstatus endpoints
type ConnectionStatusRequest struct {
	ConnectionArgs map[string]interface{} `json:"connectionArgs"`
}

// ConnectionStatusResponse reports backend reachability
type ConnectionStatusResponse struct {
	Status string `json:"status"` // connected, disconnected
	Code   int    `json:"code"`
}
