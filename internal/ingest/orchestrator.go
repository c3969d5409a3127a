// Package ingest runs the contribution pipeline: validation, injection
// screening, rate limiting, sanitization, dedup, conflict resolution, and
// finally approval routing. Step order is fixed; every gate sees the output
// of the one before it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hivemind/hivemind/internal/conflict"
	"github.com/hivemind/hivemind/internal/dedup"
	"github.com/hivemind/hivemind/internal/embeddings"
	"github.com/hivemind/hivemind/internal/guardrails"
	"github.com/hivemind/hivemind/internal/integrity"
	"github.com/hivemind/hivemind/internal/notify"
	"github.com/hivemind/hivemind/internal/quality"
	"github.com/hivemind/hivemind/internal/ratelimit"
	"github.com/hivemind/hivemind/internal/store"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/rs/zerolog/log"
)

// Statuses returned to the contributing agent.
const (
	StatusApproved          = "approved"
	StatusPendingReview     = "pending_review"
	StatusDuplicateDetected = "duplicate_detected"
	StatusUpdated           = "updated"
	StatusVersionForked     = "version_forked"
	StatusFlaggedForReview  = "flagged_for_review"
)

const minContentLength = 10

// Pipeline gate errors, mapped to HTTP statuses at the API layer.
var (
	ErrContentTooShort   = fmt.Errorf("content must be at least %d characters", minContentLength)
	ErrBadConfidence     = errors.New("confidence must be between 0 and 1")
	ErrBadCategory       = errors.New("unknown category")
	ErrInjectionDetected = errors.New("content rejected by injection screen")
	ErrSensitiveContent  = errors.New("content rejected: too much sensitive data")
)

// RateLimitError reports a denied rate or burst check.
type RateLimitError struct {
	Burst      bool
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Burst {
		return "anomalous contribution burst detected"
	}
	return "rate limit exceeded"
}

// Contribution is one incoming knowledge submission.
type Contribution struct {
	TenantID   string
	AgentID    string
	RunID      string
	Tier       models.Tier
	Content    string
	Category   models.Category
	Confidence float64
	Framework  string
	Language   string
	Version    string
	Tags       map[string]any
	IsPublic   bool
}

// Result is the pipeline outcome.
type Result struct {
	Status      string     `json:"status"`
	ItemID      *uuid.UUID `json:"knowledge_item_id,omitempty"`
	PendingID   *uuid.UUID `json:"pending_id,omitempty"`
	DuplicateOf *uuid.UUID `json:"duplicate_of,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// Orchestrator owns the pipeline dependencies.
type Orchestrator struct {
	store      store.Store
	sanitizer  *guardrails.Sanitizer
	scanner    *guardrails.InjectionScanner
	limiter    *ratelimit.Limiter
	embedder   embeddings.Provider
	dedup      *dedup.Pipeline
	index      *dedup.MinHashIndex
	resolver   *conflict.Resolver
	broker     notify.Broker
	dispatcher *notify.Dispatcher
}

func NewOrchestrator(
	st store.Store,
	sanitizer *guardrails.Sanitizer,
	scanner *guardrails.InjectionScanner,
	limiter *ratelimit.Limiter,
	embedder embeddings.Provider,
	dedupPipeline *dedup.Pipeline,
	index *dedup.MinHashIndex,
	resolver *conflict.Resolver,
	broker notify.Broker,
	dispatcher *notify.Dispatcher,
) *Orchestrator {
	return &Orchestrator{
		store:      st,
		sanitizer:  sanitizer,
		scanner:    scanner,
		limiter:    limiter,
		embedder:   embedder,
		dedup:      dedupPipeline,
		index:      index,
		resolver:   resolver,
		broker:     broker,
		dispatcher: dispatcher,
	}
}

// Submit pushes one contribution through every gate.
func (o *Orchestrator) Submit(ctx context.Context, c Contribution) (*Result, error) {
	if len(c.Content) < minContentLength {
		return nil, ErrContentTooShort
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return nil, ErrBadConfidence
	}
	if c.Category == "" {
		c.Category = models.CategoryGeneral
	}
	if !c.Category.Valid() {
		return nil, ErrBadCategory
	}

	if isInjection, score := o.scanner.Classify(c.Content); isInjection {
		log.Warn().Str("tenant_id", c.TenantID).Str("agent_id", c.AgentID).
			Float64("score", score).Msg("Contribution rejected by injection screen")
		return nil, ErrInjectionDetected
	}

	rate, err := o.limiter.Check(ctx, ratelimit.OpContribute, c.TenantID, c.AgentID, c.Tier)
	if err != nil {
		return nil, fmt.Errorf("rate check: %w", err)
	}
	if !rate.Allowed {
		return nil, &RateLimitError{Burst: rate.Burst, RetryAfter: rate.RetryAfter}
	}

	clean, reject := o.sanitizer.Sanitize(c.Content)
	if reject {
		return nil, ErrSensitiveContent
	}
	c.Content = clean

	embedding, err := o.embedder.Embed(ctx, c.Content)
	if err != nil {
		return nil, fmt.Errorf("embed contribution: %w", err)
	}

	decision, err := o.dedup.Check(ctx, c.TenantID, c.Content, embedding)
	if err != nil {
		return nil, fmt.Errorf("dedup check: %w", err)
	}
	if decision.IsDuplicate {
		return o.resolveCollision(ctx, c, embedding, decision)
	}
	return o.route(ctx, c, embedding, nil)
}

// resolveCollision handles a confirmed duplicate via the conflict resolver.
func (o *Orchestrator) resolveCollision(ctx context.Context, c Contribution, embedding []float32, decision *dedup.Decision) (*Result, error) {
	existing, err := o.store.GetItem(ctx, decision.DuplicateOf)
	if err != nil {
		return nil, fmt.Errorf("load collision target: %w", err)
	}

	resolution := o.resolver.Resolve(ctx, existing, c.Content, c.Version)
	now := time.Now().UTC()

	// A collision with another tenant's public item never mutates the
	// foreign row; destructive resolutions go to this tenant's reviewers.
	foreign := existing.TenantID != c.TenantID
	if foreign && (resolution.Action == conflict.ActionUpdate || resolution.Action == conflict.ActionVersionFork) {
		return o.flagForReview(ctx, c, existing, decision, "cross-tenant conflict: "+resolution.Reason)
	}

	switch resolution.Action {
	case conflict.ActionNoop:
		return &Result{
			Status:      StatusDuplicateDetected,
			DuplicateOf: &existing.ID,
			Reason:      resolution.Reason,
		}, nil

	case conflict.ActionUpdate:
		if err := o.store.SupersedeItem(ctx, existing.ID, c.TenantID, now); err != nil {
			return nil, fmt.Errorf("supersede on update: %w", err)
		}
		o.index.Remove(existing.ID)
		res, err := o.route(ctx, c, embedding, nil)
		if err != nil {
			return nil, err
		}
		if res.Status == StatusApproved {
			res.Status = StatusUpdated
		}
		res.Reason = resolution.Reason
		return res, nil

	case conflict.ActionVersionFork:
		if err := o.store.InvalidateItem(ctx, existing.ID, c.TenantID, now); err != nil {
			return nil, fmt.Errorf("invalidate on fork: %w", err)
		}
		res, err := o.route(ctx, c, embedding, &now)
		if err != nil {
			return nil, err
		}
		if res.Status == StatusApproved {
			res.Status = StatusVersionForked
		}
		res.Reason = resolution.Reason
		return res, nil

	case conflict.ActionAdd:
		res, err := o.route(ctx, c, embedding, nil)
		if err != nil {
			return nil, err
		}
		res.Reason = resolution.Reason
		return res, nil

	default: // FLAGGED_FOR_REVIEW
		return o.flagForReview(ctx, c, existing, decision, resolution.Reason)
	}
}

func (o *Orchestrator) flagForReview(ctx context.Context, c Contribution, existing *models.KnowledgeItem, decision *dedup.Decision, reason string) (*Result, error) {
	pending, err := o.createPending(ctx, c, map[string]any{
		"conflict_flagged": true,
		"conflict_with":    existing.ID.String(),
		"conflict_reason":  reason,
		"dedup_confidence": decision.Confidence,
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Status:    StatusFlaggedForReview,
		PendingID: &pending.ID,
		Reason:    reason,
	}, nil
}

// route sends a clean contribution to the commons or the review queue based
// on the tenant's auto-approve rule.
func (o *Orchestrator) route(ctx context.Context, c Contribution, embedding []float32, validAt *time.Time) (*Result, error) {
	autoApprove, err := o.store.GetAutoApproveRule(ctx, c.TenantID, c.Category)
	if err != nil {
		return nil, fmt.Errorf("auto-approve rule: %w", err)
	}
	if !autoApprove {
		pending, err := o.createPending(ctx, c, nil)
		if err != nil {
			return nil, err
		}
		return &Result{Status: StatusPendingReview, PendingID: &pending.ID}, nil
	}

	item, err := o.insertApproved(ctx, c, embedding, validAt)
	if err != nil {
		return nil, err
	}
	return &Result{Status: StatusApproved, ItemID: &item.ID}, nil
}

func (o *Orchestrator) insertApproved(ctx context.Context, c Contribution, embedding []float32, validAt *time.Time) (*models.KnowledgeItem, error) {
	now := time.Now().UTC()
	item := &models.KnowledgeItem{
		TenantID:      c.TenantID,
		IsPublic:      c.IsPublic,
		SourceAgentID: c.AgentID,
		RunID:         c.RunID,
		Content:       c.Content,
		ContentHash:   integrity.ComputeHash(c.Content),
		Category:      c.Category,
		Confidence:    c.Confidence,
		Framework:     c.Framework,
		Language:      c.Language,
		Version:       c.Version,
		Tags:          c.Tags,
		Embedding:     embedding,
		QualityScore:  quality.InitialScore(c.Confidence),
		ValidAt:       validAt,
		ApprovedAt:    &now,
	}
	if err := o.store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	o.index.Add(item.ID, item.Content)
	o.announce(ctx, item)
	return item, nil
}

func (o *Orchestrator) createPending(ctx context.Context, c Contribution, extraTags map[string]any) (*models.PendingContribution, error) {
	tags := map[string]any{}
	for k, v := range c.Tags {
		tags[k] = v
	}
	for k, v := range extraTags {
		tags[k] = v
	}
	pending := &models.PendingContribution{
		TenantID:      c.TenantID,
		SourceAgentID: c.AgentID,
		RunID:         c.RunID,
		Content:       c.Content,
		ContentHash:   integrity.ComputeHash(c.Content),
		Category:      c.Category,
		Confidence:    c.Confidence,
		Framework:     c.Framework,
		Language:      c.Language,
		Version:       c.Version,
		Tags:          tags,
	}
	if err := o.store.CreatePending(ctx, pending); err != nil {
		return nil, fmt.Errorf("queue pending contribution: %w", err)
	}
	return pending, nil
}

// announce publishes the item event to SSE subscribers and webhooks.
func (o *Orchestrator) announce(ctx context.Context, item *models.KnowledgeItem) {
	if o.broker != nil {
		if err := o.broker.Publish(ctx, notify.EventFromItem(item)); err != nil {
			log.Warn().Err(err).Str("item_id", item.ID.String()).Msg("Event publish failed")
		}
	}
	if o.dispatcher != nil {
		o.dispatcher.Notify(ctx, notify.EventKnowledgePublished, item)
	}
}
