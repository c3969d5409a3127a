package quality

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hivemind/hivemind/internal/store"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrOutcomeRecorded is returned when an outcome for (item, run) already
// exists. Outcomes are idempotent per run.
var ErrOutcomeRecorded = errors.New("outcome already recorded for this run")

// Recorder writes behavioral signals and keeps the denormalized counters on
// the item in sync.
type Recorder struct {
	store store.Store
}

func NewRecorder(st store.Store) *Recorder {
	return &Recorder{store: st}
}

// RecordRetrievals logs one retrieval signal per returned item and bumps the
// retrieval counters. Called asynchronously after a query responds.
func (r *Recorder) RecordRetrievals(ctx context.Context, ids []uuid.UUID, agentID, runID string) {
	if len(ids) == 0 {
		return
	}
	if err := r.store.IncrementRetrievalCounts(ctx, ids); err != nil {
		log.Warn().Err(err).Msg("Failed to bump retrieval counts")
	}
	for _, id := range ids {
		err := r.store.CreateSignal(ctx, &models.QualitySignal{
			KnowledgeItemID: id,
			SignalType:      models.SignalRetrieval,
			AgentID:         agentID,
			RunID:           runID,
		})
		if err != nil {
			log.Warn().Err(err).Str("item_id", id.String()).Msg("Failed to record retrieval signal")
		}
	}
}

// RecordOutcome logs a solved / not-helpful outcome and returns the signal.
// With a non-empty runID a second outcome for the same (item, run) returns
// the existing signal alongside ErrOutcomeRecorded.
func (r *Recorder) RecordOutcome(ctx context.Context, itemID uuid.UUID, agentID, runID string, solved bool) (*models.QualitySignal, error) {
	if runID != "" {
		existing, err := r.store.FindOutcomeSignal(ctx, itemID, runID)
		if err == nil {
			return existing, ErrOutcomeRecorded
		}
		var nf *store.ErrNotFound
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("outcome lookup: %w", err)
		}
	}

	signalType := models.SignalOutcomeNotHelpful
	if solved {
		signalType = models.SignalOutcomeSolved
	}
	sig := &models.QualitySignal{
		KnowledgeItemID: itemID,
		SignalType:      signalType,
		AgentID:         agentID,
		RunID:           runID,
	}
	if err := r.store.CreateSignal(ctx, sig); err != nil {
		return nil, fmt.Errorf("record outcome: %w", err)
	}
	if err := r.store.IncrementOutcomeCount(ctx, itemID, solved); err != nil {
		return nil, fmt.Errorf("bump outcome count: %w", err)
	}
	return sig, nil
}

// RecordContradiction logs a contradiction report against an item.
func (r *Recorder) RecordContradiction(ctx context.Context, itemID uuid.UUID, agentID string, metadata map[string]any) error {
	err := r.store.CreateSignal(ctx, &models.QualitySignal{
		KnowledgeItemID: itemID,
		SignalType:      models.SignalContradiction,
		AgentID:         agentID,
		Metadata:        metadata,
	})
	if err != nil {
		return fmt.Errorf("record contradiction: %w", err)
	}
	return nil
}
