package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// sqliteStore is the embedded retrieval backend on sqlite-vec
type sqliteStore struct {
	db        *sql.DB
	rag       RagConfig
	embedding EmbeddingProvider
}

func newSQLiteStore(cfg Config) (*sqliteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("sqlite db path is required")
	}
	if cfg.Embedding == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for concurrent readers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &sqliteStore{db: db, rag: cfg.Rag, embedding: cfg.Embedding}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_id TEXT NOT NULL,
			content TEXT NOT NULL,
			FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	vectorSchema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunk_embeddings USING vec0(
			chunk_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, s.embedding.Dimension())
	_, err := s.db.Exec(vectorSchema)
	return err
}

// Connect verifies the database is usable
func (s *sqliteStore) Connect(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	return nil
}

// Status reports database health without failing the caller
func (s *sqliteStore) Status(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// AddDocument splits, embeds and stores content, returning the new id
func (s *sqliteStore) AddDocument(ctx context.Context, name, content string) (string, error) {
	chunks := SplitText(content, s.rag.SplitByChar, s.rag.ChunkSize, s.rag.OverlapSize)
	if len(chunks) == 0 {
		return "", &StoreError{Op: "insert", Message: "document has no content"}
	}

	vectors, err := s.embedding.GenerateEmbeddings(ctx, chunks)
	if err != nil {
		return "", fmt.Errorf("failed to embed document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	docID := uuid.New().String()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO documents (id, name, created_at) VALUES (?, ?, ?)",
		docID, name, time.Now().UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	for i, chunk := range chunks {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO chunks (doc_id, content) VALUES (?, ?)",
			docID, chunk,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert chunk: %w", err)
		}
		chunkID, err := res.LastInsertId()
		if err != nil {
			return "", fmt.Errorf("failed to read chunk id: %w", err)
		}

		embeddingJSON, err := json.Marshal(vectors[i])
		if err != nil {
			return "", fmt.Errorf("failed to marshal embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO chunk_embeddings (chunk_id, embedding) VALUES (?, ?)",
			fmt.Sprintf("%d", chunkID), string(embeddingJSON),
		); err != nil {
			return "", fmt.Errorf("failed to store embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}

	log.Debug().Str("doc_id", docID).Int("chunks", len(chunks)).Msg("Document embedded")
	return docID, nil
}

// AllDocuments lists stored documents, optionally scoped to docIDs
func (s *sqliteStore) AllDocuments(ctx context.Context, docIDs []string) ([]DocumentInfo, error) {
	query := "SELECT id, name FROM documents ORDER BY created_at"
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &StoreError{Op: "query", Message: err.Error()}
	}
	defer rows.Close()

	scope := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		scope[id] = true
	}

	var docs []DocumentInfo
	for rows.Next() {
		var doc DocumentInfo
		if err := rows.Scan(&doc.ID, &doc.Name); err != nil {
			return nil, &StoreError{Op: "query", Message: err.Error()}
		}
		if len(scope) > 0 && !scope[doc.ID] {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// RemoveDocument deletes one document and its chunks. A non-empty docIDs
// workspace restricts the deletion to documents within it.
func (s *sqliteStore) RemoveDocument(ctx context.Context, docID string, docIDs []string) error {
	if !inWorkspace(docID, docIDs) {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunk_embeddings WHERE chunk_id IN (
			SELECT CAST(id AS TEXT) FROM chunks WHERE doc_id = ?
		)`, docID,
	); err != nil {
		return &StoreError{Op: "delete", Message: err.Error()}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = ?", docID); err != nil {
		return &StoreError{Op: "delete", Message: err.Error()}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", docID); err != nil {
		return &StoreError{Op: "delete", Message: err.Error()}
	}

	return tx.Commit()
}

// Search returns the closest chunks to query
func (s *sqliteStore) Search(ctx context.Context, query string) ([]string, error) {
	vector, err := s.embedding.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	embeddingJSON, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	limit := s.rag.ResultNum
	if limit <= 0 {
		limit = 3
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.content
		FROM chunk_embeddings e
		JOIN chunks c ON CAST(c.id AS TEXT) = e.chunk_id
		ORDER BY vec_distance_cosine(e.embedding, ?) ASC
		LIMIT ?`,
		string(embeddingJSON), limit,
	)
	if err != nil {
		return nil, &StoreError{Op: "search", Message: err.Error()}
	}
	defer rows.Close()

	var contexts []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, &StoreError{Op: "search", Message: err.Error()}
		}
		contexts = append(contexts, content)
	}
	return contexts, rows.Err()
}

// Close releases the database handle
func (s *sqliteStore) Close() error {
	return s.db.Close()
}
