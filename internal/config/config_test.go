package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iddaa-lens/edge/pkg/models"
)

func jobByName(t *testing.T, jobs []JobConfig, name string) JobConfig {
	t.Helper()
	for _, job := range jobs {
		if job.Name == name {
			return job
		}
	}
	t.Fatalf("job %s not found", name)
	return JobConfig{}
}

func TestLoadJobs_Defaults(t *testing.T) {
	jobs, err := LoadJobs("")
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	assert.Equal(t, []string{JobEventsSync, JobFullSync, JobOddsIntelligence},
		[]string{jobs[0].Name, jobs[1].Name, jobs[2].Name})

	full := jobByName(t, jobs, JobFullSync)
	assert.Equal(t, "0 3 * * *", full.Cadence)
	assert.Equal(t, models.OperationFullSync, full.Spec().Operation)

	events := jobByName(t, jobs, JobEventsSync)
	assert.Equal(t, "0 */6 * * *", events.Cadence)

	odds := jobByName(t, jobs, JobOddsIntelligence)
	assert.Equal(t, "0 */2 * * *", odds.Cadence)
	assert.Equal(t, models.OperationOddsSync, odds.Spec().Operation)
	assert.Equal(t, 45*time.Minute, odds.Spec().Budget.MaxDuration)
}

func TestLoadJobs_FileAndEnvLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
jobs:
  events_sync:
    cadence: "0 */4 * * *"
    max_duration: 20m
  full_sync:
    disabled: true
  odds_sync_fast:
    cadence: "@every 30m"
    operation: odds_sync
    max_duration: 10m
    max_memory_mb: 256
`), 0o600))

	t.Setenv("JOBS_EVENTS_SYNC__CADENCE", "0 */3 * * *")
	t.Setenv("JOBS_ODDS_INTELLIGENCE__MAX_MEMORY_MB", "768")

	jobs, err := LoadJobs(path)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	events := jobByName(t, jobs, JobEventsSync)
	assert.Equal(t, "0 */3 * * *", events.Cadence, "env wins over file")
	assert.Equal(t, 20*time.Minute, events.MaxDuration, "file wins over defaults")
	assert.Equal(t, 512, events.MaxMemoryMB, "untouched defaults survive")

	odds := jobByName(t, jobs, JobOddsIntelligence)
	assert.Equal(t, 768, odds.MaxMemoryMB)

	fast := jobByName(t, jobs, "odds_sync_fast")
	assert.Equal(t, "@every 30m", fast.Cadence)
	assert.Equal(t, 10*time.Minute, fast.MaxDuration)
}

func TestLoadJobs_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{
			name:    "empty cadence",
			env:     map[string]string{"JOBS_EVENTS_SYNC__CADENCE": " "},
			wantErr: ErrEmptyCadence,
		},
		{
			name:    "unknown operation",
			env:     map[string]string{"JOBS_FULL_SYNC__OPERATION": "odds_scrape"},
			wantErr: ErrUnknownOperation,
		},
		{
			name:    "non-positive duration",
			env:     map[string]string{"JOBS_ODDS_INTELLIGENCE__MAX_DURATION": "0s"},
			wantErr: ErrInvalidBudget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadJobs("")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("SOURCE_BASE_URL", "https://odds.example.com")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("RUN_ON_STARTUP", "full_sync, events_sync")
	t.Setenv("UPCOMING_WINDOW", "48h")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, []string{"full_sync", "events_sync"}, cfg.Scheduler.RunOnStartup)
	assert.Equal(t, 48*time.Hour, cfg.Intelligence.UpcomingWindow)
	assert.Len(t, cfg.Jobs, 3)
	assert.Contains(t, cfg.DatabaseURL(), "sslmode=disable")
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("SOURCE_BASE_URL", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("SOURCE_BASE_URL", "https://odds.example.com")
	t.Setenv("STORE_DRIVER", "mongo")
	_, err = Load()
	assert.Error(t, err)
}
