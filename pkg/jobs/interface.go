package jobs

import (
	"context"

	"github.com/iddaa-lens/edge/pkg/models"
	"github.com/iddaa-lens/edge/pkg/services"
)

// Job represents a schedulable job that can be executed by the cron service
type Job interface {
	// Name returns the unique job name used for triggers, locks and metrics
	Name() string

	// Schedule returns the cron schedule expression for this job
	// Format: "minute hour day month weekday" or "@every duration"
	// Examples: "0 */6 * * *" (every 6 hours), "@every 1h" (every hour)
	Schedule() string

	// Spec returns the deployment-time definition the job was built from
	Spec() models.JobSpec

	// Execute runs the job body once. A nil error means the run succeeded,
	// even when the outcome reports failed items.
	Execute(ctx context.Context) (Outcome, error)
}

// Outcome is what a job body reports about the work it did
type Outcome struct {
	ItemsProcessed int
	ItemsFailed    int
	Message        string
}

// Syncer is the sync surface the jobs drive
type Syncer interface {
	SyncAll(ctx context.Context) (services.SyncResult, error)
	SyncEvents(ctx context.Context) (services.SyncResult, error)
	SyncOdds(ctx context.Context) (services.SyncResult, error)
	GetUpcomingEvents(ctx context.Context) ([]models.Event, error)
}

// IntelligenceGenerator produces one artifact per event
type IntelligenceGenerator interface {
	GenerateBettingIntelligence(ctx context.Context, eventID string) (*models.IntelligenceArtifact, error)
}

// ArtifactObserver is told about every per-event generation attempt
type ArtifactObserver interface {
	ObserveArtifact(eventID string, err error)
}

// specJob carries the identity every concrete job shares
type specJob struct {
	spec models.JobSpec
}

func (j specJob) Name() string         { return j.spec.Name }
func (j specJob) Schedule() string     { return j.spec.Cadence }
func (j specJob) Spec() models.JobSpec { return j.spec }
