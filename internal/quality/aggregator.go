package quality

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hivemind/hivemind/internal/store"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/rs/zerolog/log"
)

// Aggregator recomputes quality scores for items that received signals since
// the last run. Scheduled every 10 minutes.
type Aggregator struct {
	store  store.Store
	scorer *Scorer
}

func NewAggregator(st store.Store, scorer *Scorer) *Aggregator {
	return &Aggregator{store: st, scorer: scorer}
}

// Run performs one aggregation pass and advances the watermark. Individual
// item failures are logged and skipped; one bad row never stalls the sweep.
func (a *Aggregator) Run(ctx context.Context) error {
	lastRun := a.lastRun(ctx)
	now := time.Now().UTC()

	ids, err := a.store.ItemsWithSignalsSince(ctx, lastRun)
	if err != nil {
		return fmt.Errorf("aggregation candidates: %w", err)
	}

	updated := 0
	for _, id := range ids {
		item, err := a.store.GetItem(ctx, id)
		if err != nil {
			var nf *store.ErrNotFound
			if !errors.As(err, &nf) {
				log.Warn().Err(err).Str("item_id", id.String()).Msg("Aggregation fetch failed")
			}
			continue
		}
		signals, err := a.store.ListSignalsForItem(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("item_id", id.String()).Msg("Aggregation signal fetch failed")
			continue
		}
		score := a.scorer.Score(ItemInputs(item, signals), now)
		if err := a.store.UpdateQualityScore(ctx, id, score); err != nil {
			log.Warn().Err(err).Str("item_id", id.String()).Msg("Quality score update failed")
			continue
		}
		updated++
	}

	if err := a.store.SetConfigValue(ctx, models.ConfigAggregationLastRun, now.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("advance aggregation watermark: %w", err)
	}
	log.Info().Int("candidates", len(ids)).Int("updated", updated).Msg("Quality aggregation pass complete")
	return nil
}

func (a *Aggregator) lastRun(ctx context.Context) time.Time {
	raw, err := a.store.GetConfigValue(ctx, models.ConfigAggregationLastRun)
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
