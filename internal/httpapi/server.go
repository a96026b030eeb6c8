// Package httpapi exposes the chat, retrieval and knowledge-graph endpoints
// over JSON HTTP. Every predictable failure returns a well-formed JSON body
// carrying one of the closed error codes, never a bare transport error.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/biocypher/biochatter-server/internal/config"
	"github.com/biocypher/biochatter-server/internal/observability"
	"github.com/biocypher/biochatter-server/internal/tracing"
	"github.com/biocypher/biochatter-server/pkg/kg"
	"github.com/biocypher/biochatter-server/pkg/session"
	"github.com/biocypher/biochatter-server/pkg/vectorstore"
)

// Server is the HTTP front of the biochatter gateway
type Server struct {
	cfg    *config.Config
	store  *session.Store
	server *http.Server
	logger zerolog.Logger

	// collaborator constructors, swapped in tests
	newVectorStore func(cfg vectorstore.Config) (vectorstore.Store, error)
	newKGRetriever func(cfg kg.Config) session.Retriever
	kgStatus       func(ctx context.Context, args kg.ConnectionArgs) bool
}

// NewServer wires the session store and collaborators into an HTTP server
func NewServer(cfg *config.Config, store *session.Store) *Server {
	observability.EnsureRegistered()

	return &Server{
		cfg:            cfg,
		store:          store,
		logger:         log.Logger,
		newVectorStore: vectorstore.New,
		newKGRetriever: func(c kg.Config) session.Retriever { return kg.NewRetriever(c) },
		kgStatus:       kg.Status,
	}
}

// Handler builds the route table with the middleware chain applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", observability.MetricsHandler())

	mux.HandleFunc("/v1/chat/completions", s.requirePost(s.handleChat))
	mux.HandleFunc("/v1/rag/newdocument", s.requirePost(s.handleNewDocument))
	mux.HandleFunc("/v1/rag/alldocuments", s.requirePost(s.handleAllDocuments))
	mux.HandleFunc("/v1/rag/document", s.requireDelete(s.handleRemoveDocument))
	mux.HandleFunc("/v1/rag/connectionstatus", s.requirePost(s.handleRAGConnectionStatus))
	mux.HandleFunc("/v1/kg/connectionstatus", s.requirePost(s.handleKGConnectionStatus))

	return s.withMiddleware(mux)
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Str("host", s.cfg.Server.Host).
		Int("port", s.cfg.Server.Port).
		Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info().Msg("Shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID, err := gonanoid.New()
		if err != nil {
			requestID = "unknown"
		}
		w.Header().Set("X-Request-Id", requestID)

		// CORS allow-all, matching the permissive browser clients
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		ctx := tracing.WithTraceID(r.Context(), tracing.NewTraceID())
		ctx = tracing.WithRequestID(ctx, requestID)

		logger := tracing.LoggerFromContext(ctx, s.logger).With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()

		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Msg("Request handler panicked")
				writeError(w, http.StatusInternalServerError, "internal server error", CodeUnknown)
			}
		}()

		next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx)))

		logger.Debug().Dur("duration", time.Since(start)).Msg("Request completed")
	})
}

func (s *Server) requirePost(next http.HandlerFunc) http.HandlerFunc {
	return s.requireMethod(http.MethodPost, next)
}

func (s *Server) requireDelete(next http.HandlerFunc) http.HandlerFunc {
	return s.requireMethod(http.MethodDelete, next)
}

func (s *Server) requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", CodeUnknown)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.store.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, code int) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
