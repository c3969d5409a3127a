// Package store provides the storage interface and implementations for
// HiveMind. Production uses PostgreSQL with pgvector; tests use the
// in-memory implementation.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hivemind/hivemind/pkg/models"
)

// Store is the primary storage interface. All handler and pipeline code
// depends on this interface, making it easy to swap between in-memory
// (tests) and PostgreSQL (production) implementations.
type Store interface {
	KnowledgeStore
	PendingStore
	SignalStore
	RuleStore
	APIKeyStore
	WebhookStore
	ConfigStore

	// Ping checks if the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error
}

// ── Knowledge Store ─────────────────────────────────────────

// SearchQuery drives the hybrid retriever. Embedding and Query refer to the
// same text; both ranked lists are computed in one SQL statement.
type SearchQuery struct {
	TenantID  string
	Query     string
	Embedding []float32
	Category  *models.Category
	Limit     int
	Offset    int
	AtTime    *time.Time
	Version   string
}

// DuplicateCandidate is a stage-1 dedup hit with its cosine distance.
type DuplicateCandidate struct {
	Item     models.KnowledgeItem
	Distance float64
}

// DuplicateGroup is a set of current items sharing (content_hash, tenant_id).
// ItemIDs are ordered by quality_score descending, so the first entry is the
// canonical survivor.
type DuplicateGroup struct {
	ContentHash string
	TenantID    string
	ItemIDs     []uuid.UUID
}

// ContradictionCluster groups items carrying contradiction signals within one
// (category, tenant) pair. The first member anchors the cluster signal.
type ContradictionCluster struct {
	Category models.Category
	TenantID string
	ItemIDs  []uuid.UUID
}

// NeighborPair is an unordered pair of current items whose embeddings lie
// within the distillation cluster threshold. Both items share a
// (category, tenant) pair.
type NeighborPair struct {
	A, B uuid.UUID
}

// ItemFilter selects approved items for listing.
type ItemFilter struct {
	TenantID string
	Category *models.Category
	Limit    int
	Offset   int
}

type KnowledgeStore interface {
	CreateItem(ctx context.Context, item *models.KnowledgeItem) error

	// GetItem fetches by id with no tenant scoping. Internal use only;
	// handlers must use GetVisibleItem.
	GetItem(ctx context.Context, id uuid.UUID) (*models.KnowledgeItem, error)

	// GetVisibleItem fetches by id scoped to the caller: the item must be
	// owned by tenantID or public, and not soft-deleted. A cross-tenant
	// private item returns ErrNotFound, indistinguishable from absence.
	GetVisibleItem(ctx context.Context, id uuid.UUID, tenantID string) (*models.KnowledgeItem, error)

	// SoftDeleteItem sets deleted_at. The caller must be the creating agent
	// within its own tenant.
	SoftDeleteItem(ctx context.Context, id uuid.UUID, tenantID, agentID string) error

	// SetItemPublic toggles commons visibility. Reversible.
	SetItemPublic(ctx context.Context, id uuid.UUID, tenantID string, isPublic bool) error

	// SupersedeItem ends the item's system-time validity (expired_at = at).
	// Scoped to the owning tenant; a foreign id returns ErrNotFound.
	SupersedeItem(ctx context.Context, id uuid.UUID, tenantID string, at time.Time) error

	// InvalidateItem ends the item's world-time validity (invalid_at = at).
	// Scoped to the owning tenant; a foreign id returns ErrNotFound.
	InvalidateItem(ctx context.Context, id uuid.UUID, tenantID string, at time.Time) error

	UpdateItemTags(ctx context.Context, id uuid.UUID, tags map[string]any) error
	UpdateQualityScore(ctx context.Context, id uuid.UUID, score float64) error

	// IncrementRetrievalCounts atomically bumps retrieval_count for all ids
	// in one statement.
	IncrementRetrievalCounts(ctx context.Context, ids []uuid.UUID) error

	// IncrementOutcomeCount atomically bumps helpful_count or
	// not_helpful_count.
	IncrementOutcomeCount(ctx context.Context, id uuid.UUID, helpful bool) error

	// SearchHybrid runs the two-CTE RRF retrieval (vector + full text) with
	// quality boost in a single SQL pass. Returns the page and the
	// pre-pagination total.
	SearchHybrid(ctx context.Context, q SearchQuery) ([]models.SearchHit, int, error)

	// VectorCandidates returns the top-K nearest current items visible to
	// the tenant with cosine distance below maxDistance.
	VectorCandidates(ctx context.Context, tenantID string, embedding []float32, topK int, maxDistance float64) ([]DuplicateCandidate, error)

	// ListCurrentItems returns every non-deleted, non-expired item. Used to
	// rebuild the MinHash index at startup.
	ListCurrentItems(ctx context.Context) ([]models.KnowledgeItem, error)

	// ListItems returns approved items for the tenant, newest first.
	ListItems(ctx context.Context, f ItemFilter) ([]models.KnowledgeItem, int, error)

	DuplicateGroups(ctx context.Context) ([]DuplicateGroup, error)
	ContradictionClusters(ctx context.Context, since time.Time) ([]ContradictionCluster, error)

	// EmbeddingNeighbors returns current-item pairs within maxDistance,
	// restricted to pairs sharing (category, tenant).
	EmbeddingNeighbors(ctx context.Context, maxDistance float64) ([]NeighborPair, error)

	CommonsStats(ctx context.Context) (*CommonsStats, error)
	TenantStats(ctx context.Context, tenantID string) (*TenantStats, error)
	AgentStats(ctx context.Context, tenantID, agentID string) (*AgentStats, error)
}

// ── Pending Store ───────────────────────────────────────────

type PendingStore interface {
	CreatePending(ctx context.Context, p *models.PendingContribution) error
	GetPending(ctx context.Context, id uuid.UUID, tenantID string) (*models.PendingContribution, error)
	DeletePending(ctx context.Context, id uuid.UUID) error
	ListPending(ctx context.Context, tenantID string, category *models.Category, limit, offset int) ([]models.PendingContribution, int, error)

	// ClaimPending leases up to limit unclaimed rows for review. Two
	// concurrent reviewers never receive the same row; expired leases
	// rejoin the queue.
	ClaimPending(ctx context.Context, tenantID string, limit int) ([]models.PendingContribution, error)

	// ReleasePending returns claimed rows to the queue.
	ReleasePending(ctx context.Context, ids []uuid.UUID) error

	CountPending(ctx context.Context) (int, error)
	ListUnflaggedPending(ctx context.Context) ([]models.PendingContribution, error)

	// FlagPending marks a pending row sensitive and records the preliminary
	// score in its tags.
	FlagPending(ctx context.Context, id uuid.UUID, preliminaryScore float64) error
}

// ── Signal Store ────────────────────────────────────────────

type SignalStore interface {
	CreateSignal(ctx context.Context, s *models.QualitySignal) error

	// FindOutcomeSignal returns an existing outcome signal for
	// (itemID, runID), or ErrNotFound.
	FindOutcomeSignal(ctx context.Context, itemID uuid.UUID, runID string) (*models.QualitySignal, error)

	ListSignalsForItem(ctx context.Context, itemID uuid.UUID) ([]models.QualitySignal, error)
	ItemsWithSignalsSince(ctx context.Context, since time.Time) ([]uuid.UUID, error)
	CountContradictionsSince(ctx context.Context, since time.Time) (int, error)
}

// ── Auto-Approve Rule Store ─────────────────────────────────

type RuleStore interface {
	// GetAutoApproveRule reports whether the (tenant, category) pair is
	// auto-approved. Absent rules are false.
	GetAutoApproveRule(ctx context.Context, tenantID string, category models.Category) (bool, error)
	UpsertAutoApproveRule(ctx context.Context, rule *models.AutoApproveRule) error
}

// ── API Key Store ───────────────────────────────────────────

type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)
	UpdateAPIKeyUsage(ctx context.Context, id uuid.UUID, requestCount int, periodStart time.Time) error
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID string) error
	ListAPIKeys(ctx context.Context, tenantID string) ([]models.APIKey, error)
}

// ── Webhook Store ───────────────────────────────────────────

type WebhookStore interface {
	CreateWebhook(ctx context.Context, w *models.WebhookEndpoint) error
	DeleteWebhook(ctx context.Context, id uuid.UUID, tenantID string) error
	ListWebhooks(ctx context.Context, tenantID string) ([]models.WebhookEndpoint, error)
	ListActiveWebhooks(ctx context.Context, tenantID string) ([]models.WebhookEndpoint, error)
}

// ── Deployment Config Store ─────────────────────────────────

type ConfigStore interface {
	GetConfigValue(ctx context.Context, key string) (string, error)
	SetConfigValue(ctx context.Context, key, value string) error
}

// ── Stats ───────────────────────────────────────────────────

// CommonsStats aggregates the public tier across all tenants.
type CommonsStats struct {
	PublicItems int            `json:"public_items"`
	AvgQuality  float64        `json:"avg_quality"`
	Categories  map[string]int `json:"categories"`
}

// TenantStats aggregates one tenant's knowledge base.
type TenantStats struct {
	Items       int     `json:"items"`
	PublicItems int     `json:"public_items"`
	Pending     int     `json:"pending"`
	AvgQuality  float64 `json:"avg_quality"`
}

// AgentStats aggregates one agent's contribution history.
type AgentStats struct {
	Contributions int `json:"contributions"`
	Solved        int `json:"solved"`
	NotHelpful    int `json:"not_helpful"`
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist or is not
// visible to the caller.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
