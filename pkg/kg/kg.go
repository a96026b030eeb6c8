// Package kg provides the knowledge graph collaborator: reachability checks
// against a neo4j deployment and a thin retriever over its HTTP transaction
// endpoint for graph-augmented chat calls.
package kg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// ErrConnectFailed marks a graph backend that could not be reached
var ErrConnectFailed = errors.New("knowledge graph connect failed")

const (
	// DefaultBoltPort is the neo4j bolt port used for reachability checks
	DefaultBoltPort = "7687"
	// DefaultHTTPPort is the neo4j HTTP API port used for queries
	DefaultHTTPPort = "7474"

	dialTimeout = 2 * time.Second
)

// ConnectionArgs identifies a graph backend instance
type ConnectionArgs struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

// Config carries the caller-supplied graph retrieval parameters for one request
type Config struct {
	NumberOfResults int            `json:"numberOfResults"`
	ConnectionArgs  ConnectionArgs `json:"connectionArgs"`
}

// DefaultConfig returns the graph retrieval parameters used when a chat call
// supplies none.
func DefaultConfig() Config {
	return Config{
		NumberOfResults: 3,
		ConnectionArgs: ConnectionArgs{
			Host: "local",
			Port: DefaultBoltPort,
		},
	}
}

// Status reports whether the graph backend accepts TCP connections on its
// bolt port.
func Status(ctx context.Context, args ConnectionArgs) bool {
	port := args.Port
	if port == "" {
		port = DefaultBoltPort
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(args.Host, port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Retriever queries the neo4j HTTP transaction endpoint for nodes matching a
// chat question. Results join the response contexts of graph-augmented calls.
type Retriever struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

// NewRetriever creates a retriever for the configured graph backend
func NewRetriever(cfg Config) *Retriever {
	if cfg.NumberOfResults <= 0 {
		cfg.NumberOfResults = DefaultConfig().NumberOfResults
	}

	return &Retriever{
		cfg:     cfg,
		baseURL: fmt.Sprintf("http://%s:%s", cfg.ConnectionArgs.Host, DefaultHTTPPort),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Connect verifies the backend is reachable on its bolt port
func (r *Retriever) Connect(ctx context.Context) error {
	if !Status(ctx, r.cfg.ConnectionArgs) {
		return ErrConnectFailed
	}
	return nil
}

type txStatement struct {
	Statement  string                 `json:"statement"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

type txRequest struct {
	Statements []txStatement `json:"statements"`
}

type txResponse struct {
	Results []struct {
		Columns []string `json:"columns"`
		Data    []struct {
			Row []json.RawMessage `json:"row"`
		} `json:"data"`
	} `json:"results"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Retrieve runs a property match against the graph and returns the matched
// nodes serialized as JSON strings.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]string, error) {
	stmt := txStatement{
		Statement: "MATCH (n) WHERE any(p IN keys(n) WHERE toString(n[p]) CONTAINS $q) RETURN n LIMIT $limit",
		Parameters: map[string]interface{}{
			"q":     query,
			"limit": r.cfg.NumberOfResults,
		},
	}

	jsonData, err := json.Marshal(txRequest{Statements: []txStatement{stmt}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+"/db/neo4j/tx/commit", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.ConnectionArgs.User != "" {
		req.SetBasicAuth(r.cfg.ConnectionArgs.User, r.cfg.ConnectionArgs.Password)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("graph query failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result txResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("graph query failed: %s: %s", result.Errors[0].Code, result.Errors[0].Message)
	}

	var contexts []string
	for _, res := range result.Results {
		for _, row := range res.Data {
			for _, cell := range row.Row {
				contexts = append(contexts, string(cell))
			}
		}
	}
	return contexts, nil
}
