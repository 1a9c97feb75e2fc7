package jobs

import (
	"sync"

	"github.com/iddaa-lens/edge/pkg/logger"
	"github.com/iddaa-lens/edge/pkg/models"
)

// Observer receives exactly one result per job firing
type Observer interface {
	ObserveRun(result models.JobRunResult)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(result models.JobRunResult)

func (f ObserverFunc) ObserveRun(result models.JobRunResult) { f(result) }

// MultiObserver fans a result out to several observers in order
type MultiObserver []Observer

func (m MultiObserver) ObserveRun(result models.JobRunResult) {
	for _, o := range m {
		if o != nil {
			o.ObserveRun(result)
		}
	}
}

// LogObserver writes every result as one structured log line
type LogObserver struct {
	logger *logger.Logger
}

func NewLogObserver(log *logger.Logger) *LogObserver {
	if log == nil {
		log = logger.New("job-observer")
	}
	return &LogObserver{logger: log}
}

func (o *LogObserver) ObserveRun(result models.JobRunResult) {
	log := o.logger.WithRequestID(result.RunID).WithJob(result.JobName)

	event := log.Info()
	switch result.Status {
	case models.RunStatusFailed:
		event = log.Error()
	case models.RunStatusSkipped:
		event = log.Warn()
	}

	event.
		Str("action", "job_result").
		Str("status", string(result.Status)).
		Bool("succeeded", result.Succeeded).
		Str("reason", string(result.Reason)).
		Time("started_at", result.StartedAt).
		Time("finished_at", result.FinishedAt).
		Dur("duration", result.Duration()).
		Int("items_processed", result.ItemsProcessed).
		Int("items_failed", result.ItemsFailed).
		Uint64("peak_memory_bytes", result.PeakMemoryBytes).
		Str("error", result.Error).
		Msg(result.Message)
}

// DefaultHistorySize is the number of results RunHistory keeps per job
const DefaultHistorySize = 20

// RunHistory keeps the most recent results per job in memory
type RunHistory struct {
	mu    sync.RWMutex
	limit int
	runs  map[string][]models.JobRunResult
}

func NewRunHistory(limit int) *RunHistory {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &RunHistory{limit: limit, runs: make(map[string][]models.JobRunResult)}
}

func (h *RunHistory) ObserveRun(result models.JobRunResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	runs := append(h.runs[result.JobName], result)
	if len(runs) > h.limit {
		runs = append([]models.JobRunResult(nil), runs[len(runs)-h.limit:]...)
	}
	h.runs[result.JobName] = runs
}

// Recent returns a job's results, newest first
func (h *RunHistory) Recent(jobName string) []models.JobRunResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	runs := h.runs[jobName]
	out := make([]models.JobRunResult, len(runs))
	for i, r := range runs {
		out[len(runs)-1-i] = r
	}
	return out
}

// Last returns a job's most recent result
func (h *RunHistory) Last(jobName string) (models.JobRunResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	runs := h.runs[jobName]
	if len(runs) == 0 {
		return models.JobRunResult{}, false
	}
	return runs[len(runs)-1], true
}
