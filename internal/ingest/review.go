package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hivemind/hivemind/internal/dedup"
	"github.com/hivemind/hivemind/internal/notify"
	"github.com/hivemind/hivemind/internal/quality"
	"github.com/hivemind/hivemind/internal/store"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/rs/zerolog/log"
)

// ReviewService promotes or discards queued contributions. Callers must
// already hold admin rights in the tenant.
type ReviewService struct {
	store      store.Store
	index      *dedup.MinHashIndex
	broker     notify.Broker
	dispatcher *notify.Dispatcher
}

func NewReviewService(st store.Store, index *dedup.MinHashIndex, broker notify.Broker, dispatcher *notify.Dispatcher) *ReviewService {
	return &ReviewService{store: st, index: index, broker: broker, dispatcher: dispatcher}
}

// Approve promotes a pending contribution into the knowledge base.
func (r *ReviewService) Approve(ctx context.Context, pendingID uuid.UUID, tenantID, reviewerID string, embedding []float32) (*models.KnowledgeItem, error) {
	pending, err := r.store.GetPending(ctx, pendingID, tenantID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tags := pending.Tags
	if tags == nil {
		tags = map[string]any{}
	}
	tags["approved_by"] = reviewerID

	item := &models.KnowledgeItem{
		TenantID:      pending.TenantID,
		SourceAgentID: pending.SourceAgentID,
		RunID:         pending.RunID,
		Content:       pending.Content,
		ContentHash:   pending.ContentHash,
		Category:      pending.Category,
		Confidence:    pending.Confidence,
		Framework:     pending.Framework,
		Language:      pending.Language,
		Version:       pending.Version,
		Tags:          tags,
		Embedding:     embedding,
		QualityScore:  quality.InitialScore(pending.Confidence),
		ApprovedAt:    &now,
	}
	if err := r.store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("promote pending contribution: %w", err)
	}
	if err := r.store.DeletePending(ctx, pendingID); err != nil {
		log.Warn().Err(err).Str("pending_id", pendingID.String()).
			Msg("Pending row cleanup failed after approval")
	}
	r.index.Add(item.ID, item.Content)

	if r.broker != nil {
		if err := r.broker.Publish(ctx, notify.EventFromItem(item)); err != nil {
			log.Warn().Err(err).Msg("Approval event publish failed")
		}
	}
	if r.dispatcher != nil {
		r.dispatcher.Notify(ctx, notify.EventKnowledgePublished, item)
	}

	log.Info().Str("item_id", item.ID.String()).Str("reviewer", reviewerID).
		Str("tenant_id", tenantID).Msg("Pending contribution approved")
	return item, nil
}

// Reject discards a pending contribution.
func (r *ReviewService) Reject(ctx context.Context, pendingID uuid.UUID, tenantID, reviewerID, reason string) error {
	if _, err := r.store.GetPending(ctx, pendingID, tenantID); err != nil {
		return err
	}
	if err := r.store.DeletePending(ctx, pendingID); err != nil {
		return err
	}
	log.Info().Str("pending_id", pendingID.String()).Str("reviewer", reviewerID).
		Str("reason", reason).Msg("Pending contribution rejected")
	return nil
}
