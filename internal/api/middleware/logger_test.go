package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hivemind/hivemind/internal/auth"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLoggerRecordsRequestLine(t *testing.T) {
	buf := captureLog(t)

	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "GET", line["method"])
	assert.Equal(t, "/healthz", line["path"])
	assert.Equal(t, float64(http.StatusTeapot), line["status"])
	assert.NotContains(t, line, "tenant_id", "anonymous requests carry no identity")
}

func TestLoggerRecordsResolvedIdentity(t *testing.T) {
	buf := captureLog(t)

	// The inner handler plays the auth layer: it resolves the identity on a
	// derived request after the logger has already wrapped the chain.
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetIdentity(r.Context(), &auth.Identity{TenantID: "acme", AgentID: "agent-1"})
		r = r.WithContext(ctx)
		assert.Equal(t, "acme", TenantID(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/mcp", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "acme", line["tenant_id"])
	assert.Equal(t, "agent-1", line["agent_id"])
}
