package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/iddaa-lens/edge/pkg/logger"
	"github.com/iddaa-lens/edge/pkg/models"
)

// FullSyncJob refreshes the profile and ranking dataset
type FullSyncJob struct {
	specJob
	syncer Syncer
}

// NewFullSyncJob creates a new full sync job
func NewFullSyncJob(spec models.JobSpec, syncer Syncer) Job {
	return &FullSyncJob{specJob: specJob{spec: spec}, syncer: syncer}
}

func (j *FullSyncJob) Execute(ctx context.Context) (Outcome, error) {
	log := logger.WithContext(ctx, "full-sync")
	start := time.Now()

	result, err := j.syncer.SyncAll(ctx)
	if err != nil {
		log.Error().
			Err(err).
			Str("action", "sync_failed").
			Dur("duration", time.Since(start)).
			Msg("Full sync failed")
		return Outcome{}, fmt.Errorf("full sync: %w", err)
	}

	return syncOutcome("profiles", result), nil
}
