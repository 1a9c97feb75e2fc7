package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/iddaa-lens/edge/pkg/logger"
	"github.com/iddaa-lens/edge/pkg/models"
)

var (
	// ErrBudgetExceeded is recorded when a run outlives its MaxDuration
	ErrBudgetExceeded = errors.New("execution budget exceeded")
	// ErrOverlapSkipped is recorded when a trigger finds the job still running,
	// here or on another replica. It is not a failure.
	ErrOverlapSkipped = errors.New("previous run still in progress")
	// ErrJobPanic is recorded when the job body panics
	ErrJobPanic = errors.New("job panicked")
)

// UnitState is the externally visible state of an instrumented job
type UnitState string

const (
	StateIdle    UnitState = "idle"
	StateRunning UnitState = "running"
)

// InstrumentConfig is the cross-cutting behaviour wrapped around a job body
type InstrumentConfig struct {
	// Observer receives one JobRunResult per firing
	Observer Observer

	// Locks, when set, guards runs across replicas. A lock held elsewhere
	// yields an overlap_skipped result.
	Locks       JobLockManager
	LockTimeout time.Duration

	// Memory samples RSS during a run; nil samples this process
	Memory         MemorySampler
	SampleInterval time.Duration

	Logger *logger.Logger
}

// Unit is a job wrapped with overlap guarding, locking, budget enforcement,
// memory sampling, panic recovery and observation. Run is its only entry point.
type Unit struct {
	job     Job
	spec    models.JobSpec
	cfg     InstrumentConfig
	logger  *logger.Logger
	running atomic.Bool
	now     func() time.Time
}

// Instrument composes the run middleware around job
func Instrument(job Job, cfg InstrumentConfig) *Unit {
	if cfg.Memory == nil {
		cfg.Memory = ProcessRSS()
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultMemorySampleInterval
	}
	if cfg.Observer == nil {
		cfg.Observer = MultiObserver{}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.New("job-runner")
	}

	return &Unit{
		job:    job,
		spec:   job.Spec(),
		cfg:    cfg,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (u *Unit) Name() string         { return u.spec.Name }
func (u *Unit) Spec() models.JobSpec { return u.spec }

func (u *Unit) State() UnitState {
	if u.running.Load() {
		return StateRunning
	}
	return StateIdle
}

type bodyResult struct {
	outcome  Outcome
	err      error
	panicked bool
}

// Run fires the job once and returns the result it emitted to the observer.
// A trigger that arrives while a previous firing is still running is skipped.
// When the budget expires Run returns immediately with a budget_exceeded
// failure; the body's context is cancelled and the unit stays running until
// the body has actually returned.
func (u *Unit) Run(ctx context.Context) models.JobRunResult {
	result := models.JobRunResult{
		RunID:     uuid.New().String(),
		JobName:   u.spec.Name,
		StartedAt: u.now(),
	}
	log := u.logger.WithRequestID(result.RunID).WithJob(u.spec.Name)

	if !u.running.CompareAndSwap(false, true) {
		log.Warn().
			Str("action", "job_skipped_overlap").
			Msg("Job skipped - previous run still in progress")
		return u.finish(log, skippedResult(result, ErrOverlapSkipped))
	}

	guard, skipped, err := u.acquireLock(ctx, log)
	if err != nil || skipped {
		u.running.Store(false)
		if err != nil {
			return u.finish(log, failedResult(result, models.ReasonOperationFailed, err))
		}
		return u.finish(log, skippedResult(result, ErrOverlapSkipped))
	}

	log.LogJobStart(u.spec.Name, u.spec.Cadence)

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if u.spec.Budget.MaxDuration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, u.spec.Budget.MaxDuration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	runCtx = log.ToContext(runCtx)

	tracker := startPeakTracker(context.WithoutCancel(ctx), u.cfg.Memory, u.cfg.SampleInterval, u.memoryWarning(log))

	var abandoned atomic.Bool
	done := make(chan bodyResult, 1)
	go func() {
		res := u.execute(runCtx)
		cancel()
		u.releaseLock(context.WithoutCancel(ctx), guard, log)
		u.running.Store(false)
		if abandoned.Load() {
			log.Info().
				Str("action", "abandoned_run_finished").
				Err(res.err).
				Msg("Job body returned after its budget expired")
		}
		done <- res
	}()

	var res bodyResult
	select {
	case res = <-done:
	case <-runCtx.Done():
		select {
		case res = <-done:
		default:
			if u.budgetExpired(ctx, runCtx) {
				abandoned.Store(true)
				result.PeakMemoryBytes = tracker.Stop(context.WithoutCancel(ctx))
				log.Error().
					Str("action", "budget_exceeded").
					Dur("max_duration", u.spec.Budget.MaxDuration).
					Msg("Job exceeded its execution budget, abandoning run")
				return u.finish(log, failedResult(result, models.ReasonBudgetExceeded, ErrBudgetExceeded))
			}
			res = <-done
		}
	}
	result.PeakMemoryBytes = tracker.Stop(context.WithoutCancel(ctx))

	result.ItemsProcessed = res.outcome.ItemsProcessed
	result.ItemsFailed = res.outcome.ItemsFailed
	result.Message = res.outcome.Message

	switch {
	case res.err == nil:
		result.Status = models.RunStatusSucceeded
		result.Succeeded = true
		return u.finish(log, result)
	case res.panicked:
		return u.finish(log, failedResult(result, models.ReasonPanic, res.err))
	case errors.Is(res.err, context.DeadlineExceeded) && u.budgetExpired(ctx, runCtx):
		return u.finish(log, failedResult(result, models.ReasonBudgetExceeded, fmt.Errorf("%w: %w", ErrBudgetExceeded, res.err)))
	default:
		return u.finish(log, failedResult(result, models.ReasonOperationFailed, res.err))
	}
}

func (u *Unit) execute(ctx context.Context) (res bodyResult) {
	defer func() {
		if r := recover(); r != nil {
			res = bodyResult{err: fmt.Errorf("%w: %v", ErrJobPanic, r), panicked: true}
		}
	}()
	outcome, err := u.job.Execute(ctx)
	return bodyResult{outcome: outcome, err: err}
}

// budgetExpired reports whether runCtx ended because of this unit's own
// budget rather than the caller's context.
func (u *Unit) budgetExpired(parent, runCtx context.Context) bool {
	return u.spec.Budget.MaxDuration > 0 &&
		errors.Is(runCtx.Err(), context.DeadlineExceeded) &&
		parent.Err() == nil
}

func (u *Unit) acquireLock(ctx context.Context, log *logger.Logger) (guard *LockGuard, skipped bool, err error) {
	if u.cfg.Locks == nil {
		return nil, false, nil
	}

	guard = NewLockGuard(u.cfg.Locks, u.spec.Name)
	var acquired bool
	if u.cfg.LockTimeout > 0 {
		acquired, err = guard.AcquireWithTimeout(ctx, u.cfg.LockTimeout)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			acquired, err = false, nil
		}
	} else {
		acquired, err = guard.Acquire(ctx)
	}

	if err != nil {
		log.Error().
			Err(err).
			Str("action", "lock_acquisition_error").
			Msg("Failed to acquire distributed lock")
		return nil, false, fmt.Errorf("acquire lock for job %s: %w", u.spec.Name, err)
	}
	if !acquired {
		log.Info().
			Str("action", "job_skipped_locked").
			Msg("Job skipped - another instance is running")
		return nil, true, nil
	}

	log.Debug().
		Str("action", "lock_acquired").
		Msg("Acquired distributed lock")
	return guard, false, nil
}

func (u *Unit) releaseLock(ctx context.Context, guard *LockGuard, log *logger.Logger) {
	if guard == nil {
		return
	}
	if err := guard.Release(ctx); err != nil {
		log.Error().
			Err(err).
			Str("action", "lock_release_error").
			Msg("Failed to release distributed lock")
	}
}

func (u *Unit) memoryWarning(log *logger.Logger) func(uint64) {
	ceiling := u.spec.Budget.MaxMemoryBytes()
	if ceiling == 0 {
		return nil
	}
	var warned atomic.Bool
	return func(rss uint64) {
		if rss > ceiling && warned.CompareAndSwap(false, true) {
			log.Warn().
				Str("action", "memory_ceiling_exceeded").
				Uint64("rss_bytes", rss).
				Uint64("ceiling_bytes", ceiling).
				Msg("Job exceeded its advisory memory ceiling")
		}
	}
}

func (u *Unit) finish(log *logger.Logger, result models.JobRunResult) models.JobRunResult {
	result.FinishedAt = u.now()

	switch result.Status {
	case models.RunStatusSucceeded:
		log.LogJobComplete(result.JobName, result.Duration(), result.ItemsProcessed, result.ItemsFailed)
	case models.RunStatusFailed:
		log.Error().
			Str("action", "job_failed").
			Str("reason", string(result.Reason)).
			Str("error", result.Error).
			Dur("duration", result.Duration()).
			Msg("Job run failed")
	}

	u.cfg.Observer.ObserveRun(result)
	return result
}

func skippedResult(result models.JobRunResult, err error) models.JobRunResult {
	result.Status = models.RunStatusSkipped
	result.Reason = models.ReasonOverlapSkipped
	result.Message = err.Error()
	return result
}

func failedResult(result models.JobRunResult, reason models.FailureReason, err error) models.JobRunResult {
	result.Status = models.RunStatusFailed
	result.Succeeded = false
	result.Reason = reason
	result.Error = err.Error()
	return result
}
