package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iddaa-lens/edge/pkg/logger"
	"github.com/iddaa-lens/edge/pkg/models"
)

// SchedulerConfig holds scheduler-wide settings
type SchedulerConfig struct {
	Instrument InstrumentConfig

	// RunOnStartup names jobs fired once when the scheduler starts,
	// before the first cadence tick
	RunOnStartup []string
}

// Scheduler binds each instrumented job to its cadence on a UTC cron
type Scheduler struct {
	cron    *cron.Cron
	units   map[string]*Unit
	entries map[string]cron.EntryID
	order   []string
	startup []string
	logger  *logger.Logger

	// ctx is the parent of every scheduled run; Stop does not cancel it so
	// running units finish or hit their budget on their own.
	ctx     context.Context
	running sync.WaitGroup
}

// NewScheduler instruments every job in registry and schedules it
func NewScheduler(registry *Registry, cfg SchedulerConfig) (*Scheduler, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	log := cfg.Instrument.Logger
	if log == nil {
		log = logger.New("job-scheduler")
		cfg.Instrument.Logger = log
	}

	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		units:   make(map[string]*Unit),
		entries: make(map[string]cron.EntryID),
		logger:  log,
		ctx:     context.Background(),
	}

	for _, job := range registry.Jobs() {
		unit := Instrument(job, cfg.Instrument)

		log.Info().
			Str("action", "register_job").
			Str("job_name", unit.Name()).
			Str("schedule", job.Schedule()).
			Dur("max_duration", unit.Spec().Budget.MaxDuration).
			Int("max_memory_mb", unit.Spec().Budget.MaxMemoryMB).
			Bool("locking_enabled", cfg.Instrument.Locks != nil).
			Msg("Registering job")

		id, err := s.cron.AddFunc(job.Schedule(), func() { s.fire(s.ctx, unit) })
		if err != nil {
			return nil, fmt.Errorf("failed to schedule job %s: %w", job.Name(), err)
		}
		s.units[unit.Name()] = unit
		s.entries[unit.Name()] = id
		s.order = append(s.order, unit.Name())
	}

	for _, name := range cfg.RunOnStartup {
		if _, ok := s.units[name]; !ok {
			return nil, fmt.Errorf("startup job %s: %w", name, ErrUnknownJob)
		}
	}
	s.startup = cfg.RunOnStartup

	return s, nil
}

func (s *Scheduler) fire(ctx context.Context, unit *Unit) {
	s.running.Add(1)
	defer s.running.Done()
	unit.Run(ctx)
}

// Start runs the startup jobs in the background and begins the cadences
func (s *Scheduler) Start() {
	s.logger.Info().
		Str("action", "start").
		Int("job_count", len(s.units)).
		Strs("startup_jobs", s.startup).
		Msg("Starting job scheduler")

	if len(s.startup) > 0 {
		s.running.Add(1)
		go func() {
			defer s.running.Done()
			s.RunStartup(s.ctx)
		}()
	}

	s.cron.Start()
}

// RunStartup fires the startup jobs one after another
func (s *Scheduler) RunStartup(ctx context.Context) {
	for _, name := range s.startup {
		s.logger.Info().
			Str("job_name", name).
			Str("action", "startup_job_start").
			Msg("Running job on startup")
		s.units[name].Run(ctx)
	}
}

// Stop halts the cadences and waits for runs in flight to return
func (s *Scheduler) Stop() {
	s.logger.Info().
		Str("action", "stop_initiated").
		Msg("Stopping job scheduler")

	<-s.cron.Stop().Done()
	s.running.Wait()

	s.logger.Info().
		Str("action", "stopped").
		Msg("Job scheduler stopped")
}

// Trigger fires the named job once, outside its cadence, and returns its result.
// Overlap rules apply as for a cadence trigger.
func (s *Scheduler) Trigger(ctx context.Context, name string) (models.JobRunResult, error) {
	unit, ok := s.units[name]
	if !ok {
		return models.JobRunResult{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	s.running.Add(1)
	defer s.running.Done()
	return unit.Run(ctx), nil
}

// Unit returns the instrumented job registered under name
func (s *Scheduler) Unit(name string) (*Unit, bool) {
	unit, ok := s.units[name]
	return unit, ok
}

// Units returns the instrumented jobs in registration order
func (s *Scheduler) Units() []*Unit {
	out := make([]*Unit, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.units[name])
	}
	return out
}

// NextRun returns when the named job fires next, zero before Start
func (s *Scheduler) NextRun(name string) time.Time {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}
