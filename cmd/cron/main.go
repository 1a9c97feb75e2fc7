package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/iddaa-lens/edge/internal/config"
	"github.com/iddaa-lens/edge/pkg/database/pool"
	"github.com/iddaa-lens/edge/pkg/datasource"
	"github.com/iddaa-lens/edge/pkg/handlers/health"
	"github.com/iddaa-lens/edge/pkg/jobs"
	"github.com/iddaa-lens/edge/pkg/logger"
	"github.com/iddaa-lens/edge/pkg/metrics"
	"github.com/iddaa-lens/edge/pkg/server"
	"github.com/iddaa-lens/edge/pkg/services"
	"github.com/iddaa-lens/edge/pkg/store"
)

const (
	lockNamespace     = "iddaa-edge"
	poolStatsInterval = 15 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// backend is the opened store plus what main needs to report on and close it
type backend struct {
	store  store.Store
	checks map[string]health.Check
	pool   *pgxpool.Pool
	locks  *pgxpool.Conn
	close  func()
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		jobName string
		once    bool
	)

	root := &cobra.Command{
		Use:           "cron",
		Short:         "Sports data sync and betting intelligence scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if once || jobName != "" {
				return runJob(cmd.Context(), jobName)
			}
			return serve(cmd.Context())
		},
	}
	root.Flags().StringVar(&jobName, "job", "", "Run a single job by name (full_sync, events_sync, odds_intelligence)")
	root.Flags().BoolVar(&once, "once", false, "Run the job given by --job once and exit")

	root.AddCommand(&cobra.Command{
		Use:   "run JOB",
		Short: "Run one job once through the scheduler instrumentation and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd.Context(), args[0])
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "jobs",
		Short: "Print the configured job specs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			for _, job := range cfg.Jobs {
				cmd.Printf("%-20s %-14s %-12s max_duration=%s max_memory_mb=%d\n",
					job.Name, job.Cadence, job.Operation, job.MaxDuration, job.MaxMemoryMB)
			}
			return nil
		},
	})

	return root
}

// app is everything both the scheduler and single-run modes share
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	backend    *backend
	metrics    *metrics.Manager
	history    *jobs.RunHistory
	registry   *jobs.Registry
	instrument jobs.InstrumentConfig
}

func newApp(ctx context.Context) (*app, error) {
	logger.SetupLogger()
	log := logger.New("cron-service")

	cfg, err := config.Load()
	if err != nil {
		log.Error().
			Err(err).
			Str("action", "config_failed").
			Msg("Failed to load configuration")
		return nil, err
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		log.Error().
			Err(err).
			Str("action", "store_failed").
			Str("driver", cfg.Store.Driver).
			Msg("Failed to open store")
		return nil, err
	}

	metricsManager := metrics.NewManager()
	history := jobs.NewRunHistory(cfg.Scheduler.HistorySize)

	sourceCfg := datasource.DefaultConfig(cfg.Source.BaseURL)
	sourceCfg.APIKey = cfg.Source.APIKey
	sourceCfg.Timeout = cfg.Source.Timeout
	sourceCfg.Retry.MaxAttempts = cfg.Source.MaxAttempts
	sourceCfg.BreakerFailures = uint32(cfg.Source.BreakerFailures)
	sourceCfg.BreakerCooldown = cfg.Source.BreakerCooldown
	source := datasource.NewHTTPClient(sourceCfg, metricsManager)

	syncService := services.NewSyncService(source, b.store, services.SyncConfig{
		UpcomingWindow: cfg.Intelligence.UpcomingWindow,
	})
	intelCfg := services.DefaultIntelligenceConfig()
	intelCfg.ReferenceBookmaker = cfg.Intelligence.ReferenceBookmaker
	intelCfg.ValueThreshold = cfg.Intelligence.ValueThreshold
	intelligenceService := services.NewIntelligenceService(b.store, intelCfg)

	registry, err := jobs.BuildRegistry(config.Specs(cfg.Jobs), jobs.Dependencies{
		Syncer:      syncService,
		Generator:   intelligenceService,
		Artifacts:   metricsManager,
		Concurrency: cfg.Intelligence.Concurrency,
	})
	if err != nil {
		b.close()
		log.Error().
			Err(err).
			Str("action", "registry_failed").
			Msg("Failed to build job registry")
		return nil, err
	}

	instrument := jobs.InstrumentConfig{
		Observer:    jobs.MultiObserver{jobs.NewLogObserver(log), metricsManager, history},
		LockTimeout: cfg.Scheduler.LockTimeout,
		Logger:      logger.New("job-runner"),
	}
	if b.locks != nil {
		instrument.Locks = jobs.NewPostgreSQLLockManager(b.locks, lockNamespace)
	}

	return &app{
		cfg:        cfg,
		log:        log,
		backend:    b,
		metrics:    metricsManager,
		history:    history,
		registry:   registry,
		instrument: instrument,
	}, nil
}

func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.backend.close()
	log := a.log

	startup := registeredOnly(a.registry, a.cfg.Scheduler.RunOnStartup)
	if len(startup) != len(a.cfg.Scheduler.RunOnStartup) {
		log.Warn().
			Strs("configured", a.cfg.Scheduler.RunOnStartup).
			Strs("startup_jobs", startup).
			Str("action", "startup_jobs_filtered").
			Msg("Some startup jobs are not registered and will not run on startup")
	}

	scheduler, err := jobs.NewScheduler(a.registry, jobs.SchedulerConfig{
		Instrument:   a.instrument,
		RunOnStartup: startup,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("action", "scheduler_failed").
			Msg("Failed to create scheduler")
		return err
	}

	srv := server.New(server.Config{
		Port:         a.cfg.Server.Port,
		Logger:       logger.New("ops-server"),
		Scheduler:    scheduler,
		History:      a.history,
		HealthChecks: a.backend.checks,
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().
				Err(err).
				Str("action", "server_failed").
				Msg("Ops server stopped")
		}
	}()

	if a.backend.pool != nil {
		go reportPoolStats(ctx, a.backend.pool, a.metrics)
	}

	scheduler.Start()

	log.Info().
		Str("action", "service_started").
		Int("job_count", len(a.registry.Jobs())).
		Str("store_driver", a.cfg.Store.Driver).
		Bool("locking_enabled", a.instrument.Locks != nil).
		Msg("Cron service started")

	<-ctx.Done()

	log.Info().
		Str("action", "shutdown_initiated").
		Msg("Shutting down cron service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("action", "server_shutdown_failed").Msg("Ops server shutdown failed")
	}
	scheduler.Stop()

	log.Info().
		Str("action", "shutdown_complete").
		Msg("Cron service stopped")
	return nil
}

// runJob fires one job through the same instrumentation as a scheduled run
func runJob(parent context.Context, name string) error {
	if name == "" {
		return errors.New("--once requires --job")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.backend.close()

	job, ok := a.registry.Get(name)
	if !ok {
		a.log.Error().
			Str("job_name", name).
			Str("action", "unknown_job").
			Msg("Cannot run job")
		return fmt.Errorf("%w: %s", jobs.ErrUnknownJob, name)
	}

	result := jobs.Instrument(job, a.instrument).Run(ctx)
	if !result.Succeeded {
		return fmt.Errorf("job %s %s: %s", name, result.Status, result.Reason)
	}
	return nil
}

func registeredOnly(registry *jobs.Registry, names []string) []string {
	var out []string
	for _, name := range names {
		if _, ok := registry.Get(name); ok {
			out = append(out, name)
		}
	}
	return out
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return &backend{store: store.NewMemoryStore(), close: func() {}}, nil

	case config.StoreSQLite:
		st, err := store.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx, store.AllCollections...); err != nil {
			_ = st.Close()
			return nil, err
		}
		return &backend{
			store:  st,
			checks: map[string]health.Check{"store": st.Ping},
			close:  func() { _ = st.Close() },
		}, nil

	case config.StorePostgres:
		db, err := pool.New(ctx, cfg.DatabaseURL(), pool.DefaultConfig())
		if err != nil {
			return nil, err
		}
		st := store.NewPostgresStore(db)
		if err := st.Migrate(ctx, store.AllCollections...); err != nil {
			db.Close()
			return nil, err
		}

		b := &backend{
			store:  st,
			checks: map[string]health.Check{"store": db.Ping},
			pool:   db,
		}
		if cfg.Scheduler.Locking {
			// Advisory locks are per session; every lock call goes through one
			// pinned connection so a release hits the session that acquired.
			conn, err := db.Acquire(ctx)
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to pin lock connection: %w", err)
			}
			b.locks = conn
		}
		b.close = func() {
			if b.locks != nil {
				b.locks.Release()
			}
			db.Close()
		}
		return b, nil
	}
	return nil, errors.New("unknown store driver " + cfg.Store.Driver)
}

func reportPoolStats(ctx context.Context, db *pgxpool.Pool, m *metrics.Manager) {
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		m.ObservePool(pool.GetStats(db))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
