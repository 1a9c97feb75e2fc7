package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iddaa-lens/edge/pkg/logger"
	"github.com/iddaa-lens/edge/pkg/models"
	"github.com/iddaa-lens/edge/pkg/services"
)

// OddsIntelligenceJob syncs odds and then generates an intelligence
// artifact for every upcoming event. Intelligence generation never starts
// unless the odds sync succeeded.
type OddsIntelligenceJob struct {
	specJob
	syncer      Syncer
	generator   IntelligenceGenerator
	artifacts   ArtifactObserver
	concurrency int
}

// NewOddsIntelligenceJob creates the two-stage odds job. artifacts may be nil.
func NewOddsIntelligenceJob(spec models.JobSpec, syncer Syncer, generator IntelligenceGenerator, artifacts ArtifactObserver, concurrency int) Job {
	return &OddsIntelligenceJob{
		specJob:     specJob{spec: spec},
		syncer:      syncer,
		generator:   generator,
		artifacts:   artifacts,
		concurrency: concurrency,
	}
}

func (j *OddsIntelligenceJob) Execute(ctx context.Context) (Outcome, error) {
	log := logger.WithContext(ctx, "odds-intelligence")
	start := time.Now()

	synced, err := j.syncer.SyncOdds(ctx)
	if err != nil {
		log.Error().
			Err(err).
			Str("action", "sync_failed").
			Dur("duration", time.Since(start)).
			Msg("Odds sync failed, skipping intelligence generation")
		return Outcome{}, fmt.Errorf("odds sync: %w", err)
	}
	// A sync that outlived the budget must not start the second stage.
	if err := ctx.Err(); err != nil {
		return syncOutcome("odds", synced), fmt.Errorf("odds sync: %w", err)
	}

	events, err := j.syncer.GetUpcomingEvents(ctx)
	if err != nil {
		return syncOutcome("odds", synced), fmt.Errorf("load upcoming events: %w", err)
	}

	ids := make([]string, 0, len(events))
	slugs := make(map[string]string, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
		slugs[event.ID] = event.Slug
	}

	batch := RunBatch(ctx, ids, j.concurrency, func(ctx context.Context, eventID string) error {
		_, err := j.generator.GenerateBettingIntelligence(ctx, eventID)
		if j.artifacts != nil {
			j.artifacts.ObserveArtifact(eventID, err)
		}
		return err
	})

	for _, item := range batch.Failures() {
		log.WithEvent(item.ID, slugs[item.ID]).Warn().
			Err(item.Err).
			Str("action", "intelligence_failed").
			Str("error_class", errorClass(item.Err)).
			Msg("Intelligence generation failed for event")
	}

	outcome := Outcome{
		ItemsProcessed: batch.Attempted(),
		ItemsFailed:    batch.Failed(),
		Message: fmt.Sprintf("odds: written %d, skipped %d; intelligence: %d upcoming, %d generated, %d failed",
			synced.Written, synced.Skipped, len(ids), batch.Succeeded(), batch.Failed()),
	}

	if skipped := batch.Skipped(); skipped > 0 {
		return outcome, fmt.Errorf("intelligence batch stopped with %d events not started: %w", skipped, ctx.Err())
	}
	return outcome, nil
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, services.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, services.ErrComputation):
		return "computation"
	case errors.Is(err, ErrItemPanic):
		return "panic"
	default:
		return "unknown"
	}
}
