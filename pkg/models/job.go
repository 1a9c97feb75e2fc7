package models

import "time"

// Operation identifies the sync operation a job drives
type Operation string

const (
	OperationFullSync   Operation = "full_sync"
	OperationEventsSync Operation = "events_sync"
	OperationOddsSync   Operation = "odds_sync"
)

// Valid reports whether the operation is known
func (o Operation) Valid() bool {
	switch o {
	case OperationFullSync, OperationEventsSync, OperationOddsSync:
		return true
	}
	return false
}

// ExecutionBudget bounds a single run. MaxMemoryMB is advisory; the hosting
// environment enforces it, the scheduler only observes it.
type ExecutionBudget struct {
	MaxDuration time.Duration `json:"max_duration"`
	MaxMemoryMB int           `json:"max_memory_mb"`
}

// MaxMemoryBytes returns the memory ceiling in bytes, 0 when unset
func (b ExecutionBudget) MaxMemoryBytes() uint64 {
	if b.MaxMemoryMB <= 0 {
		return 0
	}
	return uint64(b.MaxMemoryMB) << 20
}

// JobSpec is the deployment-time definition of a scheduled job
type JobSpec struct {
	Name      string          `json:"name"`
	Cadence   string          `json:"cadence"`
	Budget    ExecutionBudget `json:"budget"`
	Operation Operation       `json:"operation"`
}

// RunStatus is the terminal state of one job firing
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
)

// FailureReason classifies why a run did not succeed
type FailureReason string

const (
	ReasonNone            FailureReason = ""
	ReasonOperationFailed FailureReason = "operation_failed"
	ReasonBudgetExceeded  FailureReason = "budget_exceeded"
	ReasonOverlapSkipped  FailureReason = "overlap_skipped"
	ReasonPanic           FailureReason = "panic"
)

// JobRunResult is emitted exactly once per job firing
type JobRunResult struct {
	RunID           string        `json:"run_id"`
	JobName         string        `json:"job_name"`
	Status          RunStatus     `json:"status"`
	Succeeded       bool          `json:"succeeded"`
	Reason          FailureReason `json:"reason,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	ItemsProcessed  int           `json:"items_processed"`
	ItemsFailed     int           `json:"items_failed"`
	Message         string        `json:"message,omitempty"`
	Error           string        `json:"error,omitempty"`
	PeakMemoryBytes uint64        `json:"peak_memory_bytes,omitempty"`
}

// Duration returns the wall-clock time of the run
func (r JobRunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
