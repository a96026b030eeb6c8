package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const milvusCollection = "biochatter_embeddings"

// milvusStore talks to a remote Milvus deployment over its REST API
type milvusStore struct {
	baseURL    string
	rag        RagConfig
	embedding  EmbeddingProvider
	httpClient *http.Client
}

func newMilvusStore(cfg Config) (*milvusStore, error) {
	args := cfg.Rag.ConnectionArgs
	if args.Host == "" {
		return nil, fmt.Errorf("milvus host is required")
	}
	if args.Port == "" {
		args.Port = "19530"
	}
	if cfg.Embedding == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}

	return &milvusStore{
		baseURL:   fmt.Sprintf("http://%s:%s", args.Host, args.Port),
		rag:       cfg.Rag,
		embedding: cfg.Embedding,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// milvusResponse is the REST API envelope
type milvusResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *milvusStore) post(ctx context.Context, path string, payload interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	defer resp.Body.Close()

	var envelope milvusResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &StoreError{Op: path, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if envelope.Code != 0 {
		return nil, &StoreError{Op: path, Message: envelope.Message}
	}

	return envelope.Data, nil
}

// Connect verifies the deployment is reachable and the collection exists
func (s *milvusStore) Connect(ctx context.Context) error {
	if _, err := s.post(ctx, "/v2/vectordb/collections/list", map[string]interface{}{}); err != nil {
		return err
	}
	return s.ensureCollection(ctx)
}

// Status reports reachability without failing the caller
func (s *milvusStore) Status(ctx context.Context) bool {
	_, err := s.post(ctx, "/v2/vectordb/collections/list", map[string]interface{}{})
	return err == nil
}

func (s *milvusStore) ensureCollection(ctx context.Context) error {
	_, err := s.post(ctx, "/v2/vectordb/collections/create", map[string]interface{}{
		"collectionName": milvusCollection,
		"dimension":      s.embedding.Dimension(),
	})
	return err
}

// AddDocument splits, embeds and inserts content, returning the new id
func (s *milvusStore) AddDocument(ctx context.Context, name, content string) (string, error) {
	if err := s.Connect(ctx); err != nil {
		return "", err
	}

	chunks := SplitText(content, s.rag.SplitByChar, s.rag.ChunkSize, s.rag.OverlapSize)
	if len(chunks) == 0 {
		return "", &StoreError{Op: "insert", Message: "document has no content"}
	}

	vectors, err := s.embedding.GenerateEmbeddings(ctx, chunks)
	if err != nil {
		return "", fmt.Errorf("failed to embed document: %w", err)
	}

	docID := uuid.New().String()
	rows := make([]map[string]interface{}, len(chunks))
	for i, chunk := range chunks {
		rows[i] = map[string]interface{}{
			"doc_id":   docID,
			"doc_name": name,
			"text":     chunk,
			"vector":   vectors[i],
		}
	}

	if _, err := s.post(ctx, "/v2/vectordb/entities/insert", map[string]interface{}{
		"collectionName": milvusCollection,
		"data":           rows,
	}); err != nil {
		return "", err
	}

	log.Debug().Str("doc_id", docID).Int("chunks", len(chunks)).Msg("Document embedded")
	return docID, nil
}

// AllDocuments lists stored documents, optionally scoped to docIDs
func (s *milvusStore) AllDocuments(ctx context.Context, docIDs []string) ([]DocumentInfo, error) {
	filter := `doc_id != ""`
	if len(docIDs) > 0 {
		filter = fmt.Sprintf("doc_id in %s", jsonList(docIDs))
	}

	data, err := s.post(ctx, "/v2/vectordb/entities/query", map[string]interface{}{
		"collectionName": milvusCollection,
		"filter":         filter,
		"outputFields":   []string{"doc_id", "doc_name"},
		"limit":          16384,
	})
	if err != nil {
		return nil, err
	}

	var rows []struct {
		DocID   string `json:"doc_id"`
		DocName string `json:"doc_name"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, &StoreError{Op: "query", Message: fmt.Sprintf("malformed rows: %v", err)}
	}

	seen := make(map[string]bool)
	var docs []DocumentInfo
	for _, row := range rows {
		if seen[row.DocID] {
			continue
		}
		seen[row.DocID] = true
		docs = append(docs, DocumentInfo{ID: row.DocID, Name: row.DocName})
	}
	return docs, nil
}

// RemoveDocument deletes one document and its chunks. A non-empty docIDs
// workspace restricts the deletion to documents within it.
func (s *milvusStore) RemoveDocument(ctx context.Context, docID string, docIDs []string) error {
	if !inWorkspace(docID, docIDs) {
		return nil
	}

	_, err := s.post(ctx, "/v2/vectordb/entities/delete", map[string]interface{}{
		"collectionName": milvusCollection,
		"filter":         fmt.Sprintf("doc_id in %s", jsonList([]string{docID})),
	})
	return err
}

// Search returns the closest chunks to query
func (s *milvusStore) Search(ctx context.Context, query string) ([]string, error) {
	vector, err := s.embedding.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	limit := s.rag.ResultNum
	if limit <= 0 {
		limit = 3
	}

	payload := map[string]interface{}{
		"collectionName": milvusCollection,
		"data":           [][]float32{vector},
		"annsField":      "vector",
		"limit":          limit,
		"outputFields":   []string{"text"},
	}
	if len(s.rag.DocIDsWorkspace) > 0 {
		payload["filter"] = fmt.Sprintf("doc_id in %s", jsonList(s.rag.DocIDsWorkspace))
	}

	data, err := s.post(ctx, "/v2/vectordb/entities/search", payload)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, &StoreError{Op: "search", Message: fmt.Sprintf("malformed rows: %v", err)}
	}

	contexts := make([]string, 0, len(rows))
	for _, row := range rows {
		contexts = append(contexts, row.Text)
	}
	return contexts, nil
}

// Close releases backend resources
func (s *milvusStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

func jsonList(items []string) string {
	data, _ := json.Marshal(items)
	return string(data)
}
