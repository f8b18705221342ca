// Package app runs the review pipeline: the HTTP API in front and the
// job scheduler behind it.
package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sevigo/review-pipeline/internal/config"
	"github.com/sevigo/review-pipeline/internal/jobs"
	"github.com/sevigo/review-pipeline/internal/metrics"
	"github.com/sevigo/review-pipeline/internal/server"
)

const shutdownTimeout = 30 * time.Second

// App holds the main application components.
type App struct {
	Cfg       *config.Config
	Scheduler *jobs.Scheduler
	server    *server.Server
	logger    *slog.Logger
}

// NewApp assembles the application and registers its metrics.
func NewApp(cfg *config.Config, scheduler *jobs.Scheduler, srv *server.Server, logger *slog.Logger) *App {
	metrics.MustRegister()
	return &App{
		Cfg:       cfg,
		Scheduler: scheduler,
		server:    srv,
		logger:    logger,
	}
}

// Run starts the scheduler and the HTTP server and blocks until ctx is
// done or the server fails. In-flight attempts finish before Run returns.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting review pipeline",
		"server_port", a.Cfg.Server.Port,
		"queue_backend", a.Cfg.Queue.Backend,
		"quota_backend", a.Cfg.Quota.Backend,
		"workers", a.Cfg.Queue.Workers,
		"provider", a.Cfg.AI.Provider)

	g, ctx := errgroup.WithContext(ctx)
	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}

	g.Go(a.server.Start)
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Stop taking requests before draining the workers.
		err := a.server.Stop(shutdownCtx)
		if err != nil {
			a.logger.Error("error during HTTP server shutdown", "error", err)
		}
		a.Scheduler.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		a.logger.Error("review pipeline stopped with errors", "error", err)
		return err
	}
	a.logger.Info("review pipeline stopped")
	return nil
}
