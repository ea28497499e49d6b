// Package daemon assembles the runner service: job store, worker
// pool, adaptive build orchestrator, HTTP API, metrics and the
// periodic job cleanup.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/usenabla-com/nabla-runners/internal/buildsys"
	"github.com/usenabla-com/nabla-runners/internal/config"
	"github.com/usenabla-com/nabla-runners/internal/events"
	"github.com/usenabla-com/nabla-runners/internal/fixdb"
	"github.com/usenabla-com/nabla-runners/internal/jobs"
	"github.com/usenabla-com/nabla-runners/internal/metrics"
	"github.com/usenabla-com/nabla-runners/internal/orchestrator"
	"github.com/usenabla-com/nabla-runners/internal/server"
	"github.com/usenabla-com/nabla-runners/internal/strategy"
	"github.com/usenabla-com/nabla-runners/internal/workspace"
)

// Daemon owns the long-running pieces of the service.
type Daemon struct {
	cfg        *config.Config
	store      *jobs.Store
	runner     *jobs.Runner
	server     *server.Server
	scheduler  gocron.Scheduler
	fixes      *fixdb.DB
	recorder   *metrics.PrometheusRecorder
	publisher  events.Publisher
	workspaces *workspace.Manager
}

// New assembles a daemon from configuration.
func New(cfg *config.Config) (*Daemon, error) {
	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	var fixes *fixdb.DB
	if cfg.FixDB.Path != "" {
		db, err := fixdb.Open(cfg.FixDB.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open fix database: %w", err)
		}
		fixes = db
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event publisher: %w", err)
		}
		publisher = p
	}

	workspaces := workspace.NewManager(cfg.Build.WorkspaceRoot)
	orch := orchestrator.New(orchestrator.Config{
		ExecOptions: buildsys.Options{
			Timeout:    cfg.Build.AttemptTimeout.Std(),
			ZephyrBase: cfg.Build.ZephyrBase,
		},
		ApplierOpts: strategy.ApplierOptions{InstallCommand: cfg.Build.InstallCommand},
		Fixes:       fixes,
		Recorder:    recorder,
		MaxAttempts: cfg.Build.MaxAttempts,
	})

	store := jobs.NewStore()
	runner := jobs.NewRunner(store, NewBuildPipeline(workspaces, orch), jobs.RunnerOptions{
		Workers:   cfg.Jobs.Workers,
		QueueSize: cfg.Jobs.QueueSize,
		Recorder:  recorder,
		Events:    publisher,
	})

	handlers := server.NewBuildHandlers(store, runner, cfg.Customer.Name, cfg.Customer.AllowedInstallationIDs)
	srv := server.New(server.Options{
		Addr:           cfg.Server.Addr(),
		Handlers:       handlers,
		MetricsHandler: metrics.HTTPHandler(registry),
	})

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Daemon{
		cfg:        cfg,
		store:      store,
		runner:     runner,
		server:     srv,
		scheduler:  scheduler,
		fixes:      fixes,
		recorder:   recorder,
		publisher:  publisher,
		workspaces: workspaces,
	}, nil
}

// Run starts all components and blocks until ctx is cancelled, then
// shuts everything down in reverse order.
func (d *Daemon) Run(ctx context.Context) error {
	d.runner.Start(ctx)

	if _, err := d.scheduler.NewJob(
		gocron.DurationJob(d.cfg.Jobs.CleanupInterval.Std()),
		gocron.NewTask(d.cleanupJobs),
		gocron.WithName("job-cleanup"),
	); err != nil {
		return fmt.Errorf("failed to schedule job cleanup: %w", err)
	}
	d.scheduler.Start()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- d.server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			d.shutdown()
			return err
		}
	}

	d.shutdown()
	return nil
}

func (d *Daemon) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown failed", "error", err)
	}
	if err := d.scheduler.Shutdown(); err != nil {
		slog.Warn("Scheduler shutdown failed", "error", err)
	}
	d.runner.Stop()
	d.publisher.Close()
	if d.fixes != nil {
		if err := d.fixes.Close(); err != nil {
			slog.Warn("Fix database close failed", "error", err)
		}
	}
	slog.Info("Daemon stopped")
}

// cleanupJobs sweeps finished jobs past the retention window, along
// with the workspaces retained for their artifacts.
func (d *Daemon) cleanupJobs() {
	swept := d.store.CleanupOlderThan(d.cfg.Jobs.MaxAge.Std())
	for _, id := range swept {
		d.workspaces.Remove(id)
	}
	if len(swept) > 0 {
		slog.Info("Cleaned up finished jobs", "removed", len(swept), "max_age", d.cfg.Jobs.MaxAge.Std().String())
	}
}
