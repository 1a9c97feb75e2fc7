package jobs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/iddaa-lens/edge/pkg/models"
)

var (
	ErrUnknownJob   = errors.New("unknown job")
	ErrDuplicateJob = errors.New("job already registered")
)

// Registry maps job names to jobs. It is built at startup and handed to the
// scheduler; nothing registers jobs implicitly.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]Job
	order []string
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Job)}
}

// Register adds a job. Names must be unique.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	name := job.Name()
	if name == "" {
		return fmt.Errorf("job name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	r.jobs[name] = job
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Get(name string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[name]
	return job, ok
}

// Jobs returns the registered jobs in registration order
func (r *Registry) Jobs() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Job, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.jobs[name])
	}
	return out
}

// Dependencies are the services concrete jobs are built on
type Dependencies struct {
	Syncer      Syncer
	Generator   IntelligenceGenerator
	Artifacts   ArtifactObserver
	Concurrency int
}

// NewJob builds the job a spec's operation calls for
func NewJob(spec models.JobSpec, deps Dependencies) (Job, error) {
	if deps.Syncer == nil {
		return nil, fmt.Errorf("job %s: syncer is required", spec.Name)
	}
	switch spec.Operation {
	case models.OperationFullSync:
		return NewFullSyncJob(spec, deps.Syncer), nil
	case models.OperationEventsSync:
		return NewEventsSyncJob(spec, deps.Syncer), nil
	case models.OperationOddsSync:
		if deps.Generator == nil {
			return nil, fmt.Errorf("job %s: intelligence generator is required", spec.Name)
		}
		return NewOddsIntelligenceJob(spec, deps.Syncer, deps.Generator, deps.Artifacts, deps.Concurrency), nil
	default:
		return nil, fmt.Errorf("job %s: unsupported operation %q", spec.Name, spec.Operation)
	}
}

// BuildRegistry creates a registry holding one job per spec
func BuildRegistry(specs []models.JobSpec, deps Dependencies) (*Registry, error) {
	registry := NewRegistry()
	for _, spec := range specs {
		job, err := NewJob(spec, deps)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
