// Package vectorstore provides the document embedding and similarity-search
// backend used for retrieval-augmented generation. Two drivers exist: a
// client for a remote Milvus deployment and an embedded sqlite-vec store.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrConnectFailed marks a retrieval backend that could not be reached. The
// HTTP layer maps it to the dedicated connect-failed error code.
var ErrConnectFailed = errors.New("vector store connect failed")

// StoreError is any backend failure other than connectivity
type StoreError struct {
	Op      string
	Message string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store %s: %s", e.Op, e.Message)
}

// ConnectionArgs identifies a retrieval backend instance
type ConnectionArgs struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

// RagConfig carries the caller-supplied retrieval parameters for one request
type RagConfig struct {
	SplitByChar    bool           `json:"splitByChar"`
	ChunkSize      int            `json:"chunkSize"`
	OverlapSize    int            `json:"overlapSize"`
	ResultNum      int            `json:"resultNum"`
	ConnectionArgs ConnectionArgs `json:"connectionArgs"`
	DocIDsWorkspace []string      `json:"docIdsWorkspace,omitempty"`
}

// DefaultRagConfig returns the retrieval parameters used when a chat call
// supplies none.
func DefaultRagConfig() RagConfig {
	return RagConfig{
		SplitByChar: true,
		ChunkSize:   1000,
		OverlapSize: 0,
		ResultNum:   3,
		ConnectionArgs: ConnectionArgs{
			Host: "local",
			Port: "19530",
		},
	}
}

// DocumentInfo describes one stored document
type DocumentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Store is the retrieval backend contract. Implementations are safe for use
// from one request at a time; the HTTP layer constructs one per request.
type Store interface {
	// Connect verifies the backend is reachable
	Connect(ctx context.Context) error

	// Status reports reachability without failing the caller
	Status(ctx context.Context) bool

	// AddDocument splits, embeds and stores content, returning the new id
	AddDocument(ctx context.Context, name, content string) (string, error)

	// AllDocuments lists stored documents, optionally scoped to docIDs
	AllDocuments(ctx context.Context, docIDs []string) ([]DocumentInfo, error)

	// RemoveDocument deletes one document and its chunks. A non-empty
	// docIDs workspace restricts the deletion to documents within it.
	RemoveDocument(ctx context.Context, docID string, docIDs []string) error

	// Search returns the resultNum closest chunks to query
	Search(ctx context.Context, query string) ([]string, error)

	// Close releases backend resources
	Close() error
}

// Config assembles everything needed to construct a Store for one request
type Config struct {
	Driver    string // milvus, sqlite
	Rag       RagConfig
	DBPath    string // sqlite driver only
	Embedding EmbeddingProvider
}

// New constructs a Store for the configured driver
func New(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "milvus":
		return newMilvusStore(cfg)
	case "sqlite":
		return newSQLiteStore(cfg)
	default:
		return nil, fmt.Errorf("unknown vector store driver: %s", cfg.Driver)
	}
}

// inWorkspace reports whether docID may be acted on given the caller's
// workspace. An empty workspace means no restriction.
func inWorkspace(docID string, docIDs []string) bool {
	if len(docIDs) == 0 {
		return true
	}
	for _, id := range docIDs {
		if id == docID {
			return true
		}
	}
	return false
}

// Retriever adapts a Store to the session chat path: connect once, then
// retrieve context strings for a query.
type Retriever struct {
	store Store
}

// NewRetriever wraps a store for use on the chat path
func NewRetriever(store Store) *Retriever {
	return &Retriever{store: store}
}

// Connect verifies the backend is reachable
func (r *Retriever) Connect(ctx context.Context) error {
	return r.store.Connect(ctx)
}

// Retrieve returns context passages relevant to query
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]string, error) {
	return r.store.Search(ctx, query)
}

// Close releases the wrapped store's resources
func (r *Retriever) Close() error {
	return r.store.Close()
}
