// Package scheduler drives the background maintenance loops: quality
// aggregation and knowledge distillation.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hivemind/hivemind/internal/quality"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// jobTimeout bounds one maintenance run. Distillation dominates; a run that
// exceeds this is wedged, not slow.
const jobTimeout = 10 * time.Minute

// Scheduler owns the cron runner for the maintenance jobs.
type Scheduler struct {
	cron       *cron.Cron
	aggregator *quality.Aggregator
	distiller  *quality.Distiller
}

func New(aggregator *quality.Aggregator, distiller *quality.Distiller) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		aggregator: aggregator,
		distiller:  distiller,
	}
}

// Start registers and launches both loops. aggregateEvery and distillEvery
// come from configuration; the jobs themselves keep watermarks in the
// deployment config, so restarts never double-process.
func (s *Scheduler) Start(aggregateEvery, distillEvery time.Duration) error {
	_, err := s.cron.AddFunc(every(aggregateEvery), func() {
		s.runJob("quality_aggregation", s.aggregator.Run)
	})
	if err != nil {
		return fmt.Errorf("schedule aggregation: %w", err)
	}
	_, err = s.cron.AddFunc(every(distillEvery), func() {
		s.runJob("distillation", s.distiller.Run)
	})
	if err != nil {
		return fmt.Errorf("schedule distillation: %w", err)
	}

	s.cron.Start()
	log.Info().
		Dur("aggregate_every", aggregateEvery).
		Dur("distill_every", distillEvery).
		Msg("Maintenance scheduler started")
	return nil
}

// Stop halts scheduling and waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runJob(name string, run func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	if err := run(ctx); err != nil {
		log.Error().Err(err).Str("job", name).Msg("Maintenance job failed")
		return
	}
	log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("Maintenance job finished")
}

func every(d time.Duration) string {
	return "@every " + d.String()
}
