// Package models defines the persistent entities of the HiveMind knowledge
// commons: knowledge items, pending contributions, quality signals, API keys,
// webhook endpoints, and deployment config.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ── Categories ───────────────────────────────────────────────

// Category is the closed set of knowledge categories.
type Category string

const (
	CategoryBugFix            Category = "bug_fix"
	CategoryConfig            Category = "config"
	CategoryDomainExpertise   Category = "domain_expertise"
	CategoryWorkaround        Category = "workaround"
	CategoryPricingData       Category = "pricing_data"
	CategoryRegulatoryRule    Category = "regulatory_rule"
	CategoryTooling           Category = "tooling"
	CategoryReasoningTrace    Category = "reasoning_trace"
	CategoryFailedApproach    Category = "failed_approach"
	CategoryVersionWorkaround Category = "version_workaround"
	CategoryGeneral           Category = "general"
)

// Categories lists every valid category, in declaration order.
var Categories = []Category{
	CategoryBugFix, CategoryConfig, CategoryDomainExpertise,
	CategoryWorkaround, CategoryPricingData, CategoryRegulatoryRule,
	CategoryTooling, CategoryReasoningTrace, CategoryFailedApproach,
	CategoryVersionWorkaround, CategoryGeneral,
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// ── Quality signals ──────────────────────────────────────────

// SignalType classifies a behavioral event recorded against a knowledge item.
type SignalType string

const (
	SignalRetrieval            SignalType = "retrieval"
	SignalOutcomeSolved        SignalType = "outcome_solved"
	SignalOutcomeNotHelpful    SignalType = "outcome_not_helpful"
	SignalContradiction        SignalType = "contradiction"
	SignalContradictionCluster SignalType = "contradiction_cluster"
)

// QualitySignal is one append-only row in the behavioral signal log.
// Signals are immutable after write.
type QualitySignal struct {
	ID              uuid.UUID      `json:"id"`
	KnowledgeItemID uuid.UUID      `json:"knowledge_item_id"`
	SignalType      SignalType     `json:"signal_type"`
	AgentID         string         `json:"agent_id,omitempty"`
	RunID           string         `json:"run_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ── Knowledge items ──────────────────────────────────────────

// KnowledgeItem is the authoritative, searchable unit of knowledge.
//
// Two time axes are tracked. System time: ContributedAt is set once at
// creation and never changes; ExpiredAt is null iff this row is the current
// version. World time: ValidAt/InvalidAt bound when the fact held in reality,
// both nullable (null ValidAt means "always valid"). DeletedAt is a soft
// delete; the row is retained but invisible to all retrieval.
type KnowledgeItem struct {
	ID            uuid.UUID `json:"id"`
	TenantID      string    `json:"tenant_id"`
	IsPublic      bool      `json:"is_public"`
	SourceAgentID string    `json:"source_agent_id"`
	RunID         string    `json:"run_id,omitempty"`

	Content     string         `json:"content"`
	ContentHash string         `json:"content_hash"`
	Category    Category       `json:"category"`
	Confidence  float64        `json:"confidence"`
	Framework   string         `json:"framework,omitempty"`
	Language    string         `json:"language,omitempty"`
	Version     string         `json:"version,omitempty"`
	Tags        map[string]any `json:"tags,omitempty"`

	Embedding    []float32 `json:"-"`
	QualityScore float64   `json:"quality_score"`

	RetrievalCount  int `json:"retrieval_count"`
	HelpfulCount    int `json:"helpful_count"`
	NotHelpfulCount int `json:"not_helpful_count"`

	ContributedAt time.Time  `json:"contributed_at"`
	ExpiredAt     *time.Time `json:"expired_at,omitempty"`
	ValidAt       *time.Time `json:"valid_at,omitempty"`
	InvalidAt     *time.Time `json:"invalid_at,omitempty"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
}

// IsCurrent reports whether this row is the current version of its content.
func (k *KnowledgeItem) IsCurrent() bool { return k.ExpiredAt == nil }

// Title returns the summary title of the item content.
func (k *KnowledgeItem) Title() string { return TitleOf(k.Content) }

// TitleOf derives a summary title: the first 80 characters of content, with
// an ellipsis when truncated.
func TitleOf(content string) string {
	runes := []rune(content)
	if len(runes) <= 80 {
		return content
	}
	return string(runes[:80]) + "..."
}

// ── Pending contributions ────────────────────────────────────

// PendingContribution is the quarantined, pre-approval mirror of a knowledge
// item. It carries no embedding, quality score, counters, world-time, or
// publication state; those are assigned at approval.
type PendingContribution struct {
	ID            uuid.UUID `json:"id"`
	TenantID      string    `json:"tenant_id"`
	SourceAgentID string    `json:"source_agent_id"`
	RunID         string    `json:"run_id,omitempty"`

	Content     string         `json:"content"`
	ContentHash string         `json:"content_hash"`
	Category    Category       `json:"category"`
	Confidence  float64        `json:"confidence"`
	Framework   string         `json:"framework,omitempty"`
	Language    string         `json:"language,omitempty"`
	Version     string         `json:"version,omitempty"`
	Tags        map[string]any `json:"tags,omitempty"`

	IsSensitiveFlagged bool `json:"is_sensitive_flagged"`

	ContributedAt time.Time  `json:"contributed_at"`
	ClaimedAt     *time.Time `json:"-"`
}

// Title returns the summary title of the pending content.
func (p *PendingContribution) Title() string { return TitleOf(p.Content) }

// ── Auto-approve rules ───────────────────────────────────────

// AutoApproveRule bypasses the pending queue for a (tenant, category) pair.
type AutoApproveRule struct {
	ID        uuid.UUID `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Category  Category  `json:"category"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// ── API keys ─────────────────────────────────────────────────

// Tier is the billing tier attached to an API key.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPro || t == TierEnterprise
}

// APIKey is the credential record, not the credential. Only the displayable
// prefix and the SHA-256 hash of the full key are stored; the raw key is
// shown once at creation and never persisted.
type APIKey struct {
	ID                     uuid.UUID `json:"id"`
	KeyPrefix              string    `json:"key_prefix"`
	KeyHash                string    `json:"-"`
	TenantID               string    `json:"tenant_id"`
	AgentID                string    `json:"agent_id"`
	Tier                   Tier      `json:"tier"`
	RequestCount           int       `json:"request_count"`
	BillingPeriodStart     time.Time `json:"billing_period_start"`
	BillingPeriodResetDays int       `json:"billing_period_reset_days"`
	IsActive               bool      `json:"is_active"`
	CreatedAt              time.Time `json:"created_at"`
}

// ── Webhook endpoints ────────────────────────────────────────

// WebhookEndpoint is a per-tenant delivery target. Empty EventTypes means the
// endpoint receives every event type.
type WebhookEndpoint struct {
	ID         uuid.UUID `json:"id"`
	TenantID   string    `json:"tenant_id"`
	URL        string    `json:"url"`
	EventTypes []string  `json:"event_types,omitempty"`
	Secret     string    `json:"-"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Subscribes reports whether the endpoint wants the given event type.
func (w *WebhookEndpoint) Subscribes(eventType string) bool {
	if len(w.EventTypes) == 0 {
		return true
	}
	for _, e := range w.EventTypes {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// ── Deployment config ────────────────────────────────────────

// Well-known DeploymentConfig keys.
const (
	ConfigEmbeddingModelName     = "embedding_model_name"
	ConfigEmbeddingModelRevision = "embedding_model_revision"
	ConfigAggregationLastRun     = "quality_aggregation_last_run"
	ConfigDistillationLastRun    = "distillation_last_run"
)

// DeploymentConfig is a process-wide key/value row.
type DeploymentConfig struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ── Search results ───────────────────────────────────────────

// Tenant attribution values surfaced in search results.
const (
	AttributionOwn    = "your_org"
	AttributionPublic = "public_commons"
)

// SearchHit is the summary projection of a knowledge item in a search page.
type SearchHit struct {
	ID                uuid.UUID `json:"id"`
	Title             string    `json:"title"`
	Category          Category  `json:"category"`
	Confidence        float64   `json:"confidence"`
	TenantAttribution string    `json:"tenant_attribution"`
	RelevanceScore    float64   `json:"relevance_score"`

	// ContentHash drives post-fetch dedup across tenants; it is not part of
	// the response payload.
	ContentHash string `json:"-"`
}
