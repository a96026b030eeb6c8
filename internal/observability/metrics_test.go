package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerServesRegisteredMetrics(t *testing.T) {
	SetActiveSessions(3)
	RecordSessionCreated()
	RecordSessionsRecycled(2)
	RecordChatRequest("ok", 120*time.Millisecond)
	RecordVectorStoreRequest("search", "ok")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "active_sessions")
	assert.Contains(t, body, "sessions_recycled_total")
	assert.Contains(t, body, "chat_requests_total")
	assert.Contains(t, body, "vector_store_requests_total")
}

func TestEnsureRegisteredIdempotent(t *testing.T) {
	EnsureRegistered()
	EnsureRegistered()
	SetActiveSessions(0)
}
