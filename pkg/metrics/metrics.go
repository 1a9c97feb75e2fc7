// Package metrics exposes Prometheus metrics for the sync and intelligence jobs.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iddaa-lens/edge/pkg/database/pool"
	"github.com/iddaa-lens/edge/pkg/models"
	"github.com/iddaa-lens/edge/pkg/services"
)

const (
	defaultNamespace = "iddaa_edge"

	// Artifact outcomes
	ArtifactGenerated        = "generated"
	ArtifactInsufficientData = "insufficient_data"
	ArtifactComputation      = "computation_error"
	ArtifactOther            = "error"
)

// breakerStates maps gobreaker state names to gauge values
var breakerStates = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

// Option applies a configuration option to the Manager
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry registers metrics on reg instead of the default registerer
func WithRegistry(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// Manager holds every collector and implements the job, artifact and
// data-source observer interfaces.
type Manager struct {
	namespace       string
	registry        prometheus.Registerer
	durationBuckets []float64

	// Job metrics
	jobRuns           *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobItemsProcessed *prometheus.CounterVec
	jobItemsFailed    *prometheus.CounterVec
	jobLastSuccess    *prometheus.GaugeVec
	jobPeakMemory     *prometheus.GaugeVec

	// Data source metrics
	sourceRequests *prometheus.CounterVec
	sourceAttempts *prometheus.HistogramVec
	sourceLatency  *prometheus.HistogramVec
	breakerState   *prometheus.GaugeVec

	// Intelligence metrics
	artifacts *prometheus.CounterVec

	// Database pool metrics
	poolConns        *prometheus.GaugeVec
	poolMaxConns     prometheus.Gauge
	poolAcquireCount prometheus.Gauge
}

// NewManager creates and registers all metrics
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: defaultNamespace,
		registry:  prometheus.DefaultRegisterer,
		// 1s to ~2.3h
		durationBuckets: prometheus.ExponentialBuckets(1, 2, 14),
	}
	for _, opt := range opts {
		opt(m)
	}

	factory := promauto.With(m.registry)
	m.initJobMetrics(factory)
	m.initSourceMetrics(factory)
	m.initIntelligenceMetrics(factory)
	m.initPoolMetrics(factory)
	return m
}

func (m *Manager) initJobMetrics(factory promauto.Factory) {
	m.jobRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Job firings by terminal status and failure reason",
		},
		[]string{"job", "status", "reason"},
	)

	m.jobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of job runs that executed",
			Buckets:   m.durationBuckets,
		},
		[]string{"job", "status"},
	)

	m.jobItemsProcessed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: "job",
			Name:      "items_processed_total",
			Help:      "Items attempted by job runs",
		},
		[]string{"job"},
	)

	m.jobItemsFailed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: "job",
			Name:      "items_failed_total",
			Help:      "Items that failed inside job runs",
		},
		[]string{"job"},
	)

	m.jobLastSuccess = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: "job",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		},
		[]string{"job"},
	)

	m.jobPeakMemory = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: "job",
			Name:      "peak_memory_bytes",
			Help:      "Peak resident memory sampled during the last run",
		},
		[]string{"job"},
	)
}

func (m *Manager) initSourceMetrics(factory promauto.Factory) {
	m.sourceRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: "source",
			Name:      "requests_total",
			Help:      "Data source calls by resource and outcome",
		},
		[]string{"resource", "outcome"},
	)

	m.sourceAttempts = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: "source",
			Name:      "attempts",
			Help:      "HTTP attempts per data source call",
			Buckets:   []float64{1, 2, 3, 5, 8},
		},
		[]string{"resource"},
	)

	m.sourceLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: "source",
			Name:      "request_duration_seconds",
			Help:      "Data source call duration including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"resource"},
	)

	m.breakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: "source",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
}

func (m *Manager) initIntelligenceMetrics(factory promauto.Factory) {
	m.artifacts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: "intelligence",
			Name:      "artifacts_total",
			Help:      "Intelligence generation attempts by outcome",
		},
		[]string{"outcome"},
	)
}

func (m *Manager) initPoolMetrics(factory promauto.Factory) {
	m.poolConns = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: "db_pool",
			Name:      "connections",
			Help:      "Database pool connections by state",
		},
		[]string{"state"},
	)

	m.poolMaxConns = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: "db_pool",
			Name:      "max_connections",
			Help:      "Configured maximum pool size",
		},
	)

	m.poolAcquireCount = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: "db_pool",
			Name:      "acquire_count",
			Help:      "Cumulative successful connection acquisitions",
		},
	)
}

// ObserveRun records one job firing
func (m *Manager) ObserveRun(result models.JobRunResult) {
	m.jobRuns.WithLabelValues(result.JobName, string(result.Status), string(result.Reason)).Inc()

	if result.Status == models.RunStatusSkipped {
		return
	}

	m.jobDuration.WithLabelValues(result.JobName, string(result.Status)).Observe(result.Duration().Seconds())
	m.jobItemsProcessed.WithLabelValues(result.JobName).Add(float64(result.ItemsProcessed))
	m.jobItemsFailed.WithLabelValues(result.JobName).Add(float64(result.ItemsFailed))
	if result.PeakMemoryBytes > 0 {
		m.jobPeakMemory.WithLabelValues(result.JobName).Set(float64(result.PeakMemoryBytes))
	}
	if result.Succeeded {
		m.jobLastSuccess.WithLabelValues(result.JobName).Set(float64(result.FinishedAt.Unix()))
	}
}

// ObserveArtifact records one intelligence generation attempt
func (m *Manager) ObserveArtifact(eventID string, err error) {
	m.artifacts.WithLabelValues(artifactOutcome(err)).Inc()
}

func artifactOutcome(err error) string {
	switch {
	case err == nil:
		return ArtifactGenerated
	case errors.Is(err, services.ErrInsufficientData):
		return ArtifactInsufficientData
	case errors.Is(err, services.ErrComputation):
		return ArtifactComputation
	default:
		return ArtifactOther
	}
}

// ObserveSourceRequest records one data source call
func (m *Manager) ObserveSourceRequest(resource, outcome string, attempts int, d time.Duration) {
	m.sourceRequests.WithLabelValues(resource, outcome).Inc()
	if attempts > 0 {
		m.sourceAttempts.WithLabelValues(resource).Observe(float64(attempts))
	}
	m.sourceLatency.WithLabelValues(resource).Observe(d.Seconds())
}

// ObserveBreakerState records a circuit breaker transition
func (m *Manager) ObserveBreakerState(name, state string) {
	value, ok := breakerStates[state]
	if !ok {
		return
	}
	m.breakerState.WithLabelValues(name).Set(value)
}

// ObservePool records a database pool snapshot
func (m *Manager) ObservePool(stats pool.Stats) {
	m.poolConns.WithLabelValues("acquired").Set(float64(stats.AcquiredConns))
	m.poolConns.WithLabelValues("idle").Set(float64(stats.IdleConns))
	m.poolConns.WithLabelValues("total").Set(float64(stats.TotalConns))
	m.poolMaxConns.Set(float64(stats.MaxConns))
	m.poolAcquireCount.Set(float64(stats.AcquireCount))
}
