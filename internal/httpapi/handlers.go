package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/biocypher/biochatter-server/internal/observability"
	"github.com/biocypher/biochatter-server/internal/tracing"
	"github.com/biocypher/biochatter-server/pkg/kg"
	"github.com/biocypher/biochatter-server/pkg/llm"
	"github.com/biocypher/biochatter-server/pkg/session"
	"github.com/biocypher/biochatter-server/pkg/vectorstore"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := zerolog.Ctx(r.Context())

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", CodeUnknown)
		return
	}

	mc := modelConfigFromRequest(req)
	authKey := parseAuthKey(r)

	record, err := s.sessionFor(req.SessionID, mc)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create session")
		writeError(w, http.StatusInternalServerError, err.Error(), CodeUnknown)
		return
	}

	params := session.ChatParams{
		Messages: req.Messages,
		AuthKey:  authKey,
		UseRAG:   req.UseRAG,
		UseKG:    req.UseKG,
	}

	if req.UseRAG {
		retriever, err := s.ragRetriever(req.RagConfig, authKey)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), CodeUnknown)
			return
		}
		if closer, ok := retriever.(io.Closer); ok {
			defer closer.Close()
		}
		params.Retriever = retriever
	}
	if req.UseKG {
		params.KGRetriever = s.kgRetrieverFor(req.KGConfig)
	}

	result, err := record.Chat(tracing.WithSessionID(r.Context(), req.SessionID), params)
	if err != nil {
		observability.RecordChatRequest("error", time.Since(start))
		s.writeChatError(w, logger, err)
		return
	}

	resp := ChatResponse{
		Choices:  []ChatChoice{},
		Contexts: []string{},
		Code:     CodeOK,
	}
	if result != nil {
		resp.Choices = []ChatChoice{{
			Index:        0,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: result.Reply},
			FinishReason: "stop",
		}}
		resp.Usage = result.Usage
		if result.Contexts != nil {
			resp.Contexts = result.Contexts
		}
	}

	observability.RecordChatRequest("ok", time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

// sessionFor returns the live session for id, creating it with mc when none
// exists yet. The lookup and the lazy create happen under one lock
// acquisition so a concurrent removal cannot leave the caller without a
// record.
func (s *Server) sessionFor(sessionID string, mc llm.ModelConfig) (*session.Record, error) {
	return s.store.GetOrCreate(sessionID, mc)
}

func (s *Server) writeChatError(w http.ResponseWriter, logger *zerolog.Logger, err error) {
	switch {
	case errors.Is(err, llm.ErrAPIKeyRequired):
		writeError(w, http.StatusUnauthorized, err.Error(), CodeUnknown)
	case errors.Is(err, vectorstore.ErrConnectFailed):
		writeError(w, http.StatusInternalServerError, ErrMilvusConnect, CodeMilvusConnectFailed)
	default:
		var storeErr *vectorstore.StoreError
		if errors.As(err, &storeErr) {
			writeError(w, http.StatusInternalServerError, storeErr.Error(), CodeMilvusUnknown)
			return
		}
		logger.Error().Err(err).Msg("Chat request failed")
		writeError(w, http.StatusInternalServerError, err.Error(), CodeUnknown)
	}
}

func modelConfigFromRequest(req ChatRequest) llm.ModelConfig {
	mc := llm.DefaultModelConfig()
	if req.Model != "" {
		mc.Model = req.Model
	}
	if req.Temperature != nil {
		mc.Temperature = *req.Temperature
	}
	if req.PresencePenalty != nil {
		mc.PresencePenalty = *req.PresencePenalty
	}
	if req.FrequencyPenalty != nil {
		mc.FrequencyPenalty = *req.FrequencyPenalty
	}
	if req.TopP != nil {
		mc.TopP = *req.TopP
	}
	return mc
}

// ragRetriever builds a per-request vector store retriever from the supplied
// ragConfig and auth key.
func (s *Server) ragRetriever(raw json.RawMessage, authKey string) (session.Retriever, error) {
	ragCfg, err := parseRagConfigField(raw)
	if err != nil {
		return nil, err
	}

	store, err := s.vectorStore(ragCfg, authKey)
	if err != nil {
		return nil, err
	}
	return vectorstore.NewRetriever(store), nil
}

// vectorStore constructs the retrieval backend for one request with its
// connection args normalized.
func (s *Server) vectorStore(ragCfg vectorstore.RagConfig, authKey string) (vectorstore.Store, error) {
	host, port := NormalizeConnectionArgs(map[string]interface{}{
		"host": ragCfg.ConnectionArgs.Host,
		"port": ragCfg.ConnectionArgs.Port,
	}, BackendVectorStore, s.cfg.VectorStore.Host)
	ragCfg.ConnectionArgs.Host = host
	ragCfg.ConnectionArgs.Port = port

	embeddingKey := authKey
	if embeddingKey == "" {
		embeddingKey = s.cfg.OpenAI.APIKey
	}

	return s.newVectorStore(vectorstore.Config{
		Driver:    s.cfg.VectorStore.Driver,
		Rag:       ragCfg,
		DBPath:    s.cfg.VectorStore.DBPath,
		Embedding: vectorstore.NewOpenAIEmbeddingProvider(embeddingKey, s.cfg.VectorStore.EmbeddingModel),
	})
}

func (s *Server) kgRetrieverFor(cfg *kg.Config) session.Retriever {
	kgCfg := kg.DefaultConfig()
	if cfg != nil {
		kgCfg = *cfg
	}

	host, port := NormalizeConnectionArgs(map[string]interface{}{
		"host": kgCfg.ConnectionArgs.Host,
		"port": kgCfg.ConnectionArgs.Port,
	}, BackendKnowledgeGraph, s.cfg.KnowledgeGraph.Host)
	kgCfg.ConnectionArgs.Host = host
	kgCfg.ConnectionArgs.Port = port

	return s.newKGRetriever(kgCfg)
}

func (s *Server) handleNewDocument(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	var req NewDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", CodeUnknown)
		return
	}

	ragCfg, err := parseRagConfig([]byte(req.RagConfig))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), CodeUnknown)
		return
	}

	content, err := os.ReadFile(req.TmpFile)
	if err != nil {
		logger.Error().Err(err).Str("file", req.TmpFile).Msg("Failed to read uploaded file")
		writeError(w, http.StatusBadRequest, "failed to read uploaded file", CodeUnknown)
		return
	}

	store, err := s.vectorStore(ragCfg, parseAuthKey(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), CodeUnknown)
		return
	}
	defer store.Close()

	id, err := store.AddDocument(r.Context(), req.Filename, string(content))
	if err != nil {
		observability.RecordVectorStoreRequest("add_document", "error")
		s.writeStoreError(w, logger, err)
		return
	}

	observability.RecordVectorStoreRequest("add_document", "ok")
	writeJSON(w, http.StatusOK, NewDocumentResponse{ID: id, Code: CodeOK})
}

func (s *Server) handleAllDocuments(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	var req AllDocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", CodeUnknown)
		return
	}

	store, err := s.connectedStore(req.ConnectionArgs, parseAuthKey(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), CodeUnknown)
		return
	}
	defer store.Close()

	docs, err := store.AllDocuments(r.Context(), req.DocIDs)
	if err != nil {
		observability.RecordVectorStoreRequest("all_documents", "error")
		s.writeStoreError(w, logger, err)
		return
	}
	if docs == nil {
		docs = []vectorstore.DocumentInfo{}
	}

	observability.RecordVectorStoreRequest("all_documents", "ok")
	writeJSON(w, http.StatusOK, AllDocumentsResponse{Documents: docs, Code: CodeOK})
}

func (s *Server) handleRemoveDocument(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	var req RemoveDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", CodeUnknown)
		return
	}

	if req.DocID == "" {
		writeError(w, http.StatusBadRequest, "Failed to find document", CodeUnknown)
		return
	}

	store, err := s.connectedStore(req.ConnectionArgs, parseAuthKey(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), CodeUnknown)
		return
	}
	defer store.Close()

	if err := store.RemoveDocument(r.Context(), req.DocID, req.DocIDs); err != nil {
		observability.RecordVectorStoreRequest("remove_document", "error")
		s.writeStoreError(w, logger, err)
		return
	}

	observability.RecordVectorStoreRequest("remove_document", "ok")
	writeJSON(w, http.StatusOK, RemoveDocumentResponse{ID: req.DocID, Code: CodeOK})
}

func (s *Server) handleRAGConnectionStatus(w http.ResponseWriter, r *http.Request) {
	var req ConnectionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", CodeUnknown)
		return
	}

	host, port := NormalizeConnectionArgs(req.ConnectionArgs, BackendVectorStore, s.cfg.VectorStore.Host)

	ragCfg := vectorstore.DefaultRagConfig()
	ragCfg.ConnectionArgs = vectorstore.ConnectionArgs{Host: host, Port: port}

	store, err := s.vectorStore(ragCfg, parseAuthKey(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), CodeUnknown)
		return
	}
	defer store.Close()

	writeJSON(w, http.StatusOK, statusResponse(store.Status(r.Context())))
}

func (s *Server) handleKGConnectionStatus(w http.ResponseWriter, r *http.Request) {
	var req ConnectionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", CodeUnknown)
		return
	}

	host, port := NormalizeConnectionArgs(req.ConnectionArgs, BackendKnowledgeGraph, s.cfg.KnowledgeGraph.Host)
	connected := s.kgStatus(r.Context(), kg.ConnectionArgs{Host: host, Port: port})

	writeJSON(w, http.StatusOK, statusResponse(connected))
}

// connectedStore builds a vector store for the supplied connection args and
// verifies reachability before use.
func (s *Server) connectedStore(args vectorstore.ConnectionArgs, authKey string) (vectorstore.Store, error) {
	ragCfg := vectorstore.DefaultRagConfig()
	ragCfg.ConnectionArgs = args
	return s.vectorStore(ragCfg, authKey)
}

func (s *Server) writeStoreError(w http.ResponseWriter, logger *zerolog.Logger, err error) {
	switch {
	case errors.Is(err, vectorstore.ErrConnectFailed):
		writeError(w, http.StatusInternalServerError, ErrMilvusConnect, CodeMilvusConnectFailed)
	default:
		var storeErr *vectorstore.StoreError
		if errors.As(err, &storeErr) {
			writeError(w, http.StatusInternalServerError, storeErr.Error(), CodeMilvusUnknown)
			return
		}
		logger.Error().Err(err).Msg("Vector store request failed")
		writeError(w, http.StatusInternalServerError, err.Error(), CodeUnknown)
	}
}

func statusResponse(connected bool) ConnectionStatusResponse {
	status := "disconnected"
	if connected {
		status = "connected"
	}
	return ConnectionStatusResponse{Status: status, Code: CodeOK}
}
