package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hivemind/hivemind/internal/api/handlers"
	"github.com/hivemind/hivemind/internal/api/middleware"
	"github.com/hivemind/hivemind/internal/auth"
	"github.com/hivemind/hivemind/internal/config"
	"github.com/hivemind/hivemind/internal/conflict"
	"github.com/hivemind/hivemind/internal/dedup"
	"github.com/hivemind/hivemind/internal/embeddings"
	"github.com/hivemind/hivemind/internal/guardrails"
	"github.com/hivemind/hivemind/internal/ingest"
	"github.com/hivemind/hivemind/internal/llm"
	"github.com/hivemind/hivemind/internal/notify"
	"github.com/hivemind/hivemind/internal/quality"
	"github.com/hivemind/hivemind/internal/ratelimit"
	"github.com/hivemind/hivemind/internal/rbac"
	"github.com/hivemind/hivemind/internal/retrieve"
	"github.com/hivemind/hivemind/internal/store"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	handler http.Handler
	store   *store.MemoryStore
	tokens  *auth.TokenCodec
	rbac    *rbac.Service
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	cfg := config.Load()

	st := store.NewMemoryStore()
	hub := notify.NewHub()
	index := dedup.NewMinHashIndex(128, 0.95)
	embedder := embeddings.NewHashingProvider("test", "r1", 64)
	llmClient := llm.New("", "", time.Second)
	limiter := ratelimit.New(nil, 50, time.Minute)

	rbacSvc, err := rbac.NewService(nil)
	require.NoError(t, err)
	require.NoError(t, rbacSvc.SeedTenant("acme"))
	require.NoError(t, rbacSvc.AssignRole("admin-1", rbac.RoleAdmin, "acme"))

	broker := notify.NewMemoryBroker(hub)
	orch := ingest.NewOrchestrator(
		st,
		guardrails.NewSanitizer(),
		guardrails.NewInjectionScanner(0.5),
		limiter,
		embedder,
		dedup.NewPipeline(st, index, llmClient, cfg.Dedup),
		index,
		conflict.NewResolver(llmClient),
		broker,
		nil,
	)
	review := ingest.NewReviewService(st, index, broker, nil)
	recorder := quality.NewRecorder(st)
	retriever := retrieve.NewService(st, embedder, recorder)

	tokens := auth.NewTokenCodec("test-secret", time.Hour)
	keys := auth.NewAPIKeyService(st)

	h := handlers.New(st, orch, review, retriever, recorder,
		rbacSvc, keys, limiter, embedder, hub, "test")
	router := NewRouter(cfg, h, middleware.NewAuthMiddleware(tokens, keys))

	return &apiFixture{handler: router, store: st, tokens: tokens, rbac: rbacSvc}
}

func (f *apiFixture) token(t *testing.T, tenantID, agentID string) string {
	t.Helper()
	token, err := f.tokens.Issue(auth.Identity{TenantID: tenantID, AgentID: agentID, Tier: models.TierPro})
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const rpcContent = "The billing reconciler misses invoices created in the final minute of the month."

func rpcAdd(f *apiFixture, t *testing.T, token string, extra map[string]any) *httptest.ResponseRecorder {
	body := map[string]any{
		"content":    rpcContent,
		"category":   "bug_fix",
		"confidence": 0.9,
	}
	for k, v := range extra {
		body[k] = v
	}
	return f.do(t, http.MethodPost, "/rpc/tools/add_knowledge", token, body)
}

func TestPublicAndProtectedPaths(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/.well-known/mcp/server-card.json", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	card := decode(t, rec)
	assert.Equal(t, "HiveMind", card["name"])

	rec = f.do(t, http.MethodGet, "/api/v1/knowledge", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/rpc/tools/add_knowledge", "garbage.token", map[string]any{"content": rpcContent})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownToolIsNotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/rpc/tools/bake_agent", f.token(t, "acme", "agent-1"), map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["isError"])
}

func TestAddKnowledgeQueuesByDefault(t *testing.T) {
	f := newAPIFixture(t)
	rec := rpcAdd(f, t, f.token(t, "acme", "agent-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "bug_fix", body["category"])
	assert.NotEmpty(t, body["contribution_id"])
}

func TestAddKnowledgeAutoApprovedWithRule(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.token(t, "acme", "admin-1")

	rec := f.do(t, http.MethodPut, "/api/v1/rules/auto-approve", admin, map[string]any{
		"category": "bug_fix",
		"enabled":  true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = rpcAdd(f, t, f.token(t, "acme", "agent-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "auto_approved", body["status"])
}

func TestAddKnowledgeValidationMapsTo400(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, "acme", "agent-1")

	rec := f.do(t, http.MethodPost, "/rpc/tools/add_knowledge", token, map[string]any{
		"content": "too short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, true, decode(t, rec)["isError"])
}

func TestSearchAndFetchRoundTrip(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.token(t, "acme", "admin-1")
	agent := f.token(t, "acme", "agent-1")

	rec := f.do(t, http.MethodPut, "/api/v1/rules/auto-approve", admin, map[string]any{
		"category": "bug_fix", "enabled": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = rpcAdd(f, t, agent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	itemID := decode(t, rec)["contribution_id"].(string)

	rec = f.do(t, http.MethodPost, "/rpc/tools/search_knowledge", agent, map[string]any{
		"query": "billing reconciler invoices month end",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode(t, rec)
	results := page["results"].([]any)
	require.NotEmpty(t, results)

	rec = f.do(t, http.MethodGet, "/api/v1/knowledge/"+itemID, agent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fetched := decode(t, rec)
	assert.Equal(t, true, fetched["integrity_verified"])

	// Cross-tenant private fetch reads as absent.
	rec = f.do(t, http.MethodGet, "/api/v1/knowledge/"+itemID, f.token(t, "globex", "agent-9"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportOutcomeIsIdempotentPerRun(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.token(t, "acme", "admin-1")
	agent := f.token(t, "acme", "agent-1")

	f.do(t, http.MethodPut, "/api/v1/rules/auto-approve", admin, map[string]any{
		"category": "bug_fix", "enabled": true,
	})
	rec := rpcAdd(f, t, agent, nil)
	itemID := decode(t, rec)["contribution_id"].(string)

	outcome := map[string]any{"item_id": itemID, "outcome": "solved", "run_id": "run-1"}
	rec = f.do(t, http.MethodPost, "/rpc/tools/report_outcome", agent, outcome)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "recorded", decode(t, rec)["status"])

	rec = f.do(t, http.MethodPost, "/rpc/tools/report_outcome", agent, outcome)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already_recorded", decode(t, rec)["status"])
}

func TestReviewFlowApprovesPending(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.token(t, "acme", "admin-1")
	agent := f.token(t, "acme", "agent-1")

	rec := rpcAdd(f, t, agent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pendingID := decode(t, rec)["contribution_id"].(string)

	// Non-admins cannot see the review surface at all.
	rec = f.do(t, http.MethodGet, "/api/v1/contributions", agent, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/contributions", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode(t, rec)
	assert.EqualValues(t, 1, page["total_count"])

	rec = f.do(t, http.MethodPost, "/api/v1/contributions/"+pendingID+"/approve", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	approved := decode(t, rec)
	itemID := approved["knowledge_item_id"].(string)

	rec = f.do(t, http.MethodGet, "/api/v1/knowledge/"+itemID, agent, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The pending row is gone; a second approve is a 404.
	rec = f.do(t, http.MethodPost, "/api/v1/contributions/"+pendingID+"/approve", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.token(t, "acme", "admin-1")

	rec := f.do(t, http.MethodPost, "/api/v1/keys", admin, map[string]any{
		"agent_id": "service-bot",
		"tier":     "pro",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	minted := decode(t, rec)
	plaintext := minted["api_key"].(string)
	require.NotEmpty(t, plaintext)

	// The raw key authenticates as a bearer credential.
	rec = rpcAdd(f, t, plaintext, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/keys", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var keys []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &keys))
	require.Len(t, keys, 1)
	keyID := keys[0]["id"].(string)

	rec = f.do(t, http.MethodDelete, "/api/v1/keys/"+keyID, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = rpcAdd(f, t, plaintext, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "revoked key no longer authenticates")
}

func TestManageRolesTool(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.token(t, "acme", "admin-1")
	agent := f.token(t, "acme", "agent-1")

	rec := f.do(t, http.MethodPost, "/rpc/tools/manage_roles", admin, map[string]any{
		"action":   "assign_role",
		"agent_id": "agent-1",
		"role":     rbac.RoleContributor,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/rpc/tools/manage_roles", agent, map[string]any{
		"action":   "get_roles",
		"agent_id": "agent-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	roles := decode(t, rec)["roles"].([]any)
	assert.Contains(t, roles, rbac.RoleContributor)

	// Mutations from a non-admin read as absent.
	rec = f.do(t, http.MethodPost, "/rpc/tools/manage_roles", agent, map[string]any{
		"action":   "assign_role",
		"agent_id": "agent-2",
		"role":     rbac.RoleAdmin,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.token(t, "acme", "admin-1")
	agent := f.token(t, "acme", "agent-1")

	f.do(t, http.MethodPut, "/api/v1/rules/auto-approve", admin, map[string]any{
		"category": "bug_fix", "enabled": true,
	})
	rec := rpcAdd(f, t, agent, map[string]any{"is_public": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/stats/commons", agent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	commons := decode(t, rec)["commons"].(map[string]any)
	assert.EqualValues(t, 1, commons["public_items"])

	rec = f.do(t, http.MethodGet, "/api/v1/stats/org", agent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	org := decode(t, rec)
	assert.EqualValues(t, 1, org["items"])

	rec = f.do(t, http.MethodGet, "/api/v1/stats/user", agent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	user := decode(t, rec)
	assert.EqualValues(t, 1, user["contributions"])
}

func TestWebhookManagement(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.token(t, "acme", "admin-1")

	rec := f.do(t, http.MethodPost, "/api/v1/webhooks", admin, map[string]any{
		"url":         "https://example.com/hooks/knowledge",
		"event_types": []string{"knowledge.published"},
		"secret":      "whsec",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode(t, rec)
	hookID := created["id"].(string)

	rec = f.do(t, http.MethodGet, "/api/v1/webhooks", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hooks []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hooks))
	assert.Len(t, hooks, 1)

	rec = f.do(t, http.MethodDelete, "/api/v1/webhooks/"+hookID, admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMalformedBodyIs422(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, "acme", "agent-1")

	req := httptest.NewRequest(http.MethodPost, "/rpc/tools/add_knowledge", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
