package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/iddaa-lens/edge/pkg/logger"
	"github.com/iddaa-lens/edge/pkg/models"
	"github.com/iddaa-lens/edge/pkg/services"
)

type EventsSyncJob struct {
	specJob
	syncer Syncer
}

// NewEventsSyncJob creates a new events sync job
func NewEventsSyncJob(spec models.JobSpec, syncer Syncer) Job {
	return &EventsSyncJob{specJob: specJob{spec: spec}, syncer: syncer}
}

func (j *EventsSyncJob) Execute(ctx context.Context) (Outcome, error) {
	log := logger.WithContext(ctx, "events-sync")
	start := time.Now()

	result, err := j.syncer.SyncEvents(ctx)
	if err != nil {
		log.Error().
			Err(err).
			Str("action", "sync_failed").
			Dur("duration", time.Since(start)).
			Msg("Events sync failed")
		return Outcome{}, fmt.Errorf("events sync: %w", err)
	}

	return syncOutcome("events", result), nil
}

// syncOutcome reports every fetched record as processed and the malformed
// or orphaned ones as failed items.
func syncOutcome(kind string, result services.SyncResult) Outcome {
	return Outcome{
		ItemsProcessed: result.Fetched,
		ItemsFailed:    result.Skipped,
		Message: fmt.Sprintf("%s: fetched %d, written %d, unchanged %d, skipped %d",
			kind, result.Fetched, result.Written, result.Unchanged, result.Skipped),
	}
}
