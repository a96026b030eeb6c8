package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biocypher/biochatter-server/internal/config"
	"github.com/biocypher/biochatter-server/pkg/kg"
	"github.com/biocypher/biochatter-server/pkg/llm"
	"github.com/biocypher/biochatter-server/pkg/session"
	"github.com/biocypher/biochatter-server/pkg/vectorstore"
)

// stubConversation answers every query with a fixed reply
type stubConversation struct {
	history []llm.Message
	hasKey  bool
	reply   string
	err     error
}

func (c *stubConversation) ClearHistory() { c.history = nil }
func (c *stubConversation) AppendSystemMessage(content string) {
	c.history = append(c.history, llm.Message{Role: llm.RoleSystem, Content: content})
}
func (c *stubConversation) AppendUserMessage(content string) {
	c.history = append(c.history, llm.Message{Role: llm.RoleUser, Content: content})
}
func (c *stubConversation) AppendAIMessage(content string) {
	c.history = append(c.history, llm.Message{Role: llm.RoleAssistant, Content: content})
}
func (c *stubConversation) HistoryLen() int           { return len(c.history) }
func (c *stubConversation) HasAPIKey() bool           { return c.hasKey }
func (c *stubConversation) SetAPIKey(key, user string) { c.hasKey = true }
func (c *stubConversation) Query(ctx context.Context, text string) (string, llm.Usage, error) {
	if c.err != nil {
		return "", llm.Usage{}, c.err
	}
	return c.reply, llm.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}, nil
}

// stubVectorStore implements vectorstore.Store in memory
type stubVectorStore struct {
	connectErr error
	searchHits []string
	docs       []vectorstore.DocumentInfo
	addedID    string
	removed    []string
}

func (s *stubVectorStore) Connect(ctx context.Context) error { return s.connectErr }
func (s *stubVectorStore) Status(ctx context.Context) bool   { return s.connectErr == nil }
func (s *stubVectorStore) AddDocument(ctx context.Context, name, content string) (string, error) {
	if s.connectErr != nil {
		return "", s.connectErr
	}
	return s.addedID, nil
}
func (s *stubVectorStore) AllDocuments(ctx context.Context, docIDs []string) ([]vectorstore.DocumentInfo, error) {
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	return s.docs, nil
}
func (s *stubVectorStore) RemoveDocument(ctx context.Context, docID string, docIDs []string) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	s.removed = append(s.removed, docID)
	return nil
}
func (s *stubVectorStore) Search(ctx context.Context, query string) ([]string, error) {
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	return s.searchHits, nil
}
func (s *stubVectorStore) Close() error { return nil }

func newTestServer(t *testing.T, vs *stubVectorStore) *Server {
	t.Helper()

	factory := func(mc llm.ModelConfig) (llm.Conversation, error) {
		return &stubConversation{hasKey: true, reply: "stub reply"}, nil
	}
	store := session.NewStore(factory, 0)

	srv := NewServer(config.DefaultConfig(), store)
	srv.newVectorStore = func(cfg vectorstore.Config) (vectorstore.Store, error) {
		return vs, nil
	}
	srv.kgStatus = func(ctx context.Context, args kg.ConnectionArgs) bool { return false }
	return srv
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatEndToEnd(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{})
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/v1/chat/completions", map[string]interface{}{
		"session_id": "abc",
		"messages":   []map[string]string{{"role": "user", "content": "hello"}},
		"useRAG":     false,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "stub reply", resp.Choices[0].Message.Content)
	assert.Equal(t, llm.RoleAssistant, resp.Choices[0].Message.Role)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Equal(t, CodeOK, resp.Code)

	// the session now exists and is reused
	assert.True(t, srv.store.Has("abc"))
	rec = doJSON(t, handler, http.MethodPost, "/v1/chat/completions", map[string]interface{}{
		"session_id": "abc",
		"messages":   []map[string]string{{"role": "user", "content": "again"}},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, srv.store.Len())
}

func TestSessionForSurvivesConcurrentRemoval(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{})

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			srv.store.Initialize("contested", llm.DefaultModelConfig())
			srv.store.Remove("contested")
		}
	}()
	defer close(done)

	// a concurrent initialize/remove cycle must never leave the chat path
	// without a record
	for i := 0; i < 10000; i++ {
		record, err := srv.sessionFor("contested", llm.DefaultModelConfig())
		require.NoError(t, err)
		require.NotNil(t, record)
	}
}

func TestChatEmptyMessages(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat/completions", map[string]interface{}{
		"session_id": "abc",
		"messages":   []map[string]string{},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Choices)
	assert.Equal(t, CodeOK, resp.Code)
}

func TestChatWithRAGContexts(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{searchHits: []string{"ctx-1", "ctx-2"}})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat/completions", map[string]interface{}{
		"session_id": "rag-session",
		"messages":   []map[string]string{{"role": "user", "content": "what is tp53"}},
		"useRAG":     true,
		"ragConfig":  map[string]interface{}{"resultNum": 2, "connectionArgs": map[string]interface{}{"host": "local", "port": 19530}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"ctx-1", "ctx-2"}, resp.Contexts)
	assert.Equal(t, CodeOK, resp.Code)
}

func TestChatRAGConnectFailure(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{connectErr: vectorstore.ErrConnectFailed})
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/v1/chat/completions", map[string]interface{}{
		"session_id": "abc",
		"messages":   []map[string]string{{"role": "user", "content": "q"}},
		"useRAG":     true,
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CodeMilvusConnectFailed, resp.Code)
	assert.Equal(t, "Failed to connect to Milvus server", resp.Error)

	// the session survives the failed call
	assert.True(t, srv.store.Has("abc"))
	rec = doJSON(t, handler, http.MethodPost, "/v1/chat/completions", map[string]interface{}{
		"session_id": "abc",
		"messages":   []map[string]string{{"role": "user", "content": "q"}},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatMissingAPIKey(t *testing.T) {
	factory := func(mc llm.ModelConfig) (llm.Conversation, error) {
		return &stubConversation{hasKey: false}, nil
	}
	srv := NewServer(config.DefaultConfig(), session.NewStore(factory, 0))

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat/completions", map[string]interface{}{
		"session_id": "abc",
		"messages":   []map[string]string{{"role": "user", "content": "q"}},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CodeUnknown, resp.Code)
}

func TestChatInvalidBody(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CodeUnknown, resp.Code)
}

func TestChatMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{})

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewDocument(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "upload.txt")
	require.NoError(t, os.WriteFile(tmpFile, []byte("document body"), 0600))

	srv := newTestServer(t, &stubVectorStore{addedID: "doc-42"})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/rag/newdocument", map[string]interface{}{
		"tmpFile":   tmpFile,
		"filename":  "upload.txt",
		"ragConfig": `{"chunkSize": 500, "connectionArgs": {"host": "local", "port": "19530"}}`,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp NewDocumentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "doc-42", resp.ID)
	assert.Equal(t, CodeOK, resp.Code)
}

func TestNewDocumentMissingFile(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/rag/newdocument", map[string]interface{}{
		"tmpFile":  "/nonexistent/file.txt",
		"filename": "file.txt",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAllDocuments(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{docs: []vectorstore.DocumentInfo{
		{ID: "1", Name: "a.txt"},
		{ID: "2", Name: "b.txt"},
	}})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/rag/alldocuments", map[string]interface{}{
		"connectionArgs": map[string]interface{}{"host": "local", "port": 19530},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AllDocumentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Documents, 2)
	assert.Equal(t, "1", resp.Documents[0].ID)
	assert.Equal(t, CodeOK, resp.Code)
}

func TestAllDocumentsConnectFailure(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{connectErr: vectorstore.ErrConnectFailed})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/rag/alldocuments", map[string]interface{}{
		"connectionArgs": map[string]interface{}{"host": "local"},
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CodeMilvusConnectFailed, resp.Code)
	assert.Equal(t, ErrMilvusConnect, resp.Error)
}

func TestRemoveDocument(t *testing.T) {
	vs := &stubVectorStore{}
	srv := newTestServer(t, vs)

	rec := doJSON(t, srv.Handler(), http.MethodDelete, "/v1/rag/document", map[string]interface{}{
		"connectionArgs": map[string]interface{}{"host": "local"},
		"docId":          "doc-7",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"doc-7"}, vs.removed)
}

func TestRemoveDocumentEmptyID(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{})

	rec := doJSON(t, srv.Handler(), http.MethodDelete, "/v1/rag/document", map[string]interface{}{
		"connectionArgs": map[string]interface{}{"host": "local"},
		"docId":          "",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Failed to find document", resp.Error)
}

func TestRAGConnectionStatus(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/rag/connectionstatus", map[string]interface{}{
		"connectionArgs": map[string]interface{}{"host": "local", "port": 19530},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConnectionStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "connected", resp.Status)
	assert.Equal(t, CodeOK, resp.Code)
}

func TestRAGConnectionStatusDown(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{connectErr: vectorstore.ErrConnectFailed})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/rag/connectionstatus", map[string]interface{}{
		"connectionArgs": map[string]interface{}{"host": "local"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConnectionStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "disconnected", resp.Status)
}

func TestKGConnectionStatus(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{})
	srv.kgStatus = func(ctx context.Context, args kg.ConnectionArgs) bool {
		assert.Equal(t, "127.0.0.1", args.Host)
		assert.Equal(t, "7687", args.Port)
		return true
	}

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/kg/connectionstatus", map[string]interface{}{
		"connectionArgs": map[string]interface{}{"host": "local"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConnectionStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "connected", resp.Status)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{})

	req := httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, &stubVectorStore{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
