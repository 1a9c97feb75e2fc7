package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/iddaa-lens/edge/pkg/models"
)

// Default job names
const (
	JobFullSync         = "full_sync"
	JobEventsSync       = "events_sync"
	JobOddsIntelligence = "odds_intelligence"
)

var (
	ErrEmptyCadence     = errors.New("cadence must not be empty")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrInvalidBudget    = errors.New("budget values must be positive")
)

// JobConfig is one job spec as layered by LoadJobs
type JobConfig struct {
	Name        string        `koanf:"-"`
	Disabled    bool          `koanf:"disabled"`
	Cadence     string        `koanf:"cadence"`
	Operation   string        `koanf:"operation"`
	MaxDuration time.Duration `koanf:"max_duration"`
	MaxMemoryMB int           `koanf:"max_memory_mb"`
}

// Spec converts the config into the scheduler's job spec
func (j JobConfig) Spec() models.JobSpec {
	return models.JobSpec{
		Name:      j.Name,
		Cadence:   j.Cadence,
		Operation: models.Operation(j.Operation),
		Budget: models.ExecutionBudget{
			MaxDuration: j.MaxDuration,
			MaxMemoryMB: j.MaxMemoryMB,
		},
	}
}

// DefaultJobs returns the daily full sync, six-hourly events sync and
// two-hourly odds sync with intelligence generation
func DefaultJobs() []JobConfig {
	return []JobConfig{
		{
			Name:        JobFullSync,
			Cadence:     "0 3 * * *",
			Operation:   string(models.OperationFullSync),
			MaxDuration: 2 * time.Hour,
			MaxMemoryMB: 1024,
		},
		{
			Name:        JobEventsSync,
			Cadence:     "0 */6 * * *",
			Operation:   string(models.OperationEventsSync),
			MaxDuration: 30 * time.Minute,
			MaxMemoryMB: 512,
		},
		{
			Name:        JobOddsIntelligence,
			Cadence:     "0 */2 * * *",
			Operation:   string(models.OperationOddsSync),
			MaxDuration: 45 * time.Minute,
			MaxMemoryMB: 512,
		},
	}
}

// LoadJobs layers job specs, lowest precedence first:
//  1. DefaultJobs
//  2. YAML file at path, if path is set
//  3. env JOBS_<JOB>__<FIELD>, e.g. JOBS_EVENTS_SYNC__CADENCE
//
// A job that only appears in the file or env must set every field.
// Jobs with disabled=true are dropped. The result is sorted by name.
func LoadJobs(path string) ([]JobConfig, error) {
	k := koanf.New(".")

	for _, job := range DefaultJobs() {
		prefix := "jobs." + job.Name + "."
		defaults := map[string]interface{}{
			"disabled":      job.Disabled,
			"cadence":       job.Cadence,
			"operation":     job.Operation,
			"max_duration":  job.MaxDuration.String(),
			"max_memory_mb": job.MaxMemoryMB,
		}
		for field, value := range defaults {
			if err := k.Set(prefix+field, value); err != nil {
				return nil, fmt.Errorf("job defaults: %w", err)
			}
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load jobs config %s: %w", path, err)
		}
	}

	// JOBS_ODDS_INTELLIGENCE__MAX_DURATION -> jobs.odds_intelligence.max_duration
	envProvider := env.Provider("JOBS_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "JOBS_"))
		if !strings.Contains(s, "__") {
			// JOBS_CONFIG and friends are not job fields
			return ""
		}
		return "jobs." + strings.Replace(s, "__", ".", 1)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load jobs env: %w", err)
	}

	var raw map[string]JobConfig
	if err := k.UnmarshalWithConf("jobs", &raw, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode jobs config: %w", err)
	}

	jobs := make([]JobConfig, 0, len(raw))
	for name, job := range raw {
		job.Name = name
		if job.Disabled {
			continue
		}
		if err := job.Validate(); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	return jobs, nil
}

// Validate rejects specs the scheduler cannot run
func (j JobConfig) Validate() error {
	if strings.TrimSpace(j.Cadence) == "" {
		return fmt.Errorf("job %s: %w", j.Name, ErrEmptyCadence)
	}
	if !models.Operation(j.Operation).Valid() {
		return fmt.Errorf("job %s: %w: %q", j.Name, ErrUnknownOperation, j.Operation)
	}
	if j.MaxDuration <= 0 || j.MaxMemoryMB <= 0 {
		return fmt.Errorf("job %s: %w", j.Name, ErrInvalidBudget)
	}
	return nil
}

// Specs converts the configs into scheduler job specs
func Specs(jobs []JobConfig) []models.JobSpec {
	specs := make([]models.JobSpec, 0, len(jobs))
	for _, job := range jobs {
		specs = append(specs, job.Spec())
	}
	return specs
}
