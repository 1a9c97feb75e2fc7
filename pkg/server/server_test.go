package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iddaa-lens/edge/pkg/handlers/health"
	"github.com/iddaa-lens/edge/pkg/jobs"
	"github.com/iddaa-lens/edge/pkg/logger"
	"github.com/iddaa-lens/edge/pkg/metrics"
	"github.com/iddaa-lens/edge/pkg/models"
	"github.com/iddaa-lens/edge/pkg/models/api"
)

type stubJob struct {
	spec models.JobSpec
}

func (j stubJob) Name() string         { return j.spec.Name }
func (j stubJob) Schedule() string     { return j.spec.Cadence }
func (j stubJob) Spec() models.JobSpec { return j.spec }
func (j stubJob) Execute(ctx context.Context) (jobs.Outcome, error) {
	return jobs.Outcome{ItemsProcessed: 2, Message: "ok"}, nil
}

type testEnv struct {
	server    *Server
	scheduler *jobs.Scheduler
	registry  *prometheus.Registry
}

func newTestEnv(t *testing.T, checks map[string]health.Check) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	metricsManager := metrics.NewManager(metrics.WithRegistry(reg), metrics.WithNamespace("test"))
	history := jobs.NewRunHistory(5)

	registry := jobs.NewRegistry()
	require.NoError(t, registry.Register(stubJob{spec: models.JobSpec{
		Name:      "events_sync",
		Cadence:   "0 */6 * * *",
		Budget:    models.ExecutionBudget{MaxDuration: time.Minute, MaxMemoryMB: 256},
		Operation: models.OperationEventsSync,
	}}))

	scheduler, err := jobs.NewScheduler(registry, jobs.SchedulerConfig{
		Instrument: jobs.InstrumentConfig{
			Observer: jobs.MultiObserver{history, metricsManager},
			Memory:   func(context.Context) (uint64, error) { return 1 << 20, nil },
			Logger:   logger.Nop(),
		},
	})
	require.NoError(t, err)

	srv := New(Config{
		Logger:       logger.Nop(),
		Scheduler:    scheduler,
		History:      history,
		Gatherer:     reg,
		HealthChecks: checks,
	})
	return &testEnv{server: srv, scheduler: scheduler, registry: reg}
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, map[string]health.Check{
		"store": func(context.Context) error { return nil },
	})

	rec := env.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Checks["store"])
}

func TestHealthDegraded(t *testing.T) {
	env := newTestEnv(t, map[string]health.Check{
		"store":    func(context.Context) error { return nil },
		"database": func(context.Context) error { return errors.New("connection refused") },
	})

	rec := env.get(t, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "connection refused", body.Checks["database"])
	assert.Equal(t, "ok", body.Checks["store"])
}

func TestJobsEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	result, err := env.scheduler.Trigger(context.Background(), "events_sync")
	require.NoError(t, err)
	require.True(t, result.Succeeded)

	rec := env.get(t, "/jobs")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Success bool                    `json:"success"`
		Data    []api.JobStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.True(t, list.Success)
	require.Len(t, list.Data, 1)

	job := list.Data[0]
	assert.Equal(t, "events_sync", job.Name)
	assert.Equal(t, "0 */6 * * *", job.Schedule)
	assert.Equal(t, "idle", job.State)
	assert.Equal(t, 256, job.MaxMemory)
	require.Len(t, job.Runs, 1)
	assert.Equal(t, result.RunID, job.Runs[0].RunID)
	assert.Equal(t, 2, job.Runs[0].ItemsProcessed)
	require.NotNil(t, job.LastRun)
	assert.Equal(t, result.RunID, job.LastRun.RunID)

	rec = env.get(t, "/jobs/events_sync")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.get(t, "/jobs/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.scheduler.Trigger(context.Background(), "events_sync")
	require.NoError(t, err)

	rec := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "test_job_runs_total"), body)
	assert.True(t, strings.Contains(body, `status="succeeded"`), body)
	assert.True(t, strings.Contains(body, "test_job_items_processed_total"), body)
}
