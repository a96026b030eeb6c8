package kg

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	assert.True(t, Status(context.Background(), ConnectionArgs{Host: host, Port: port}))
}

func TestStatusUnreachable(t *testing.T) {
	// bind then close to get a port nothing listens on
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	ln.Close()

	assert.False(t, Status(context.Background(), ConnectionArgs{Host: host, Port: port}))
}

func TestDefaultConfig(t *testing.T) {
	assert.Equal(t, 3, DefaultConfig().NumberOfResults)
}

func TestRetrieverRetrieve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/db/neo4j/tx/commit", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "neo4j", user)
		assert.Equal(t, "secret", pass)

		var payload txRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.Statements, 1)
		assert.Contains(t, payload.Statements[0].Statement, "MATCH (n)")
		assert.Equal(t, "tp53", payload.Statements[0].Parameters["q"])

		resp := `{"results":[{"columns":["n"],"data":[{"row":[{"name":"TP53"}]},{"row":[{"name":"MDM2"}]}]}],"errors":[]}`
		w.Write([]byte(resp))
	}))
	defer server.Close()

	r := NewRetriever(Config{
		NumberOfResults: 5,
		ConnectionArgs:  ConnectionArgs{User: "neo4j", Password: "secret"},
	})
	r.baseURL = server.URL

	contexts, err := r.Retrieve(context.Background(), "tp53")
	require.NoError(t, err)
	require.Len(t, contexts, 2)
	assert.Contains(t, contexts[0], "TP53")
}

func TestRetrieverRetrieveGraphError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := `{"results":[],"errors":[{"code":"Neo.ClientError.Statement.SyntaxError","message":"bad cypher"}]}`
		w.Write([]byte(resp))
	}))
	defer server.Close()

	r := NewRetriever(DefaultConfig())
	r.baseURL = server.URL

	_, err := r.Retrieve(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SyntaxError")
}

func TestRetrieverRetrieveConnectFailed(t *testing.T) {
	r := NewRetriever(DefaultConfig())
	r.baseURL = "http://127.0.0.1:1"

	_, err := r.Retrieve(context.Background(), "q")
	assert.ErrorIs(t, err, ErrConnectFailed)
}

func TestRetrieverDefaultsResultNum(t *testing.T) {
	r := NewRetriever(Config{ConnectionArgs: ConnectionArgs{Host: "localhost"}})
	assert.Equal(t, 3, r.cfg.NumberOfResults)
	assert.True(t, strings.HasPrefix(r.baseURL, "http://localhost:"))
}
