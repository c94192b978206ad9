// Package main is the entrypoint for the AgentIQ API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/agentiq/internal/api"
	"github.com/kiranshivaraju/agentiq/internal/api/handler"
	mw "github.com/kiranshivaraju/agentiq/internal/api/middleware"
	"github.com/kiranshivaraju/agentiq/internal/app"
	"github.com/kiranshivaraju/agentiq/internal/config"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
	requestTimeout  = 30 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "queue_backend", cfg.Queue.Backend, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, app.Options{Migrate: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	router := api.NewRouter(dependencies(rt.Jobs, rt.Store, rt.Store, rt.Cache, cfg))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	// An in-process broker is invisible to other processes, so the server
	// runs the worker itself.
	if cfg.Queue.Backend == "memory" {
		slog.Warn("memory queue backend: running embedded worker")
		worker, sweeper := rt.NewWorker(), rt.NewSweeper()
		g.Go(func() error { return worker.Run(gctx) })
		g.Go(func() error { return sweeper.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

// jobService is everything the HTTP surface needs from the job layer.
type jobService interface {
	handler.JobService
	handler.SingleEnricher
	handler.JobHealthReporter
	handler.UsageReporter
}

// sharedCache backs both the health check and the rate limit counter.
type sharedCache interface {
	handler.Pinger
	mw.Counter
}

func dependencies(svc jobService, keys mw.KeyStore, db handler.Pinger, c sharedCache, cfg *config.Config) api.Dependencies {
	return api.Dependencies{
		Auth:           mw.NewAuth(keys),
		RateLimit:      mw.NewRateLimit(c, cfg.RateLimit.RequestsPerMinute),
		RequestTimeout: requestTimeout,

		HealthHandler: handler.NewHealthHandler(handler.HealthDeps{
			Database: db,
			Cache:    c,
			Jobs:     svc,
		}),

		SubmitJob:  handler.NewSubmitJobHandler(svc),
		ListJobs:   handler.NewListJobsHandler(svc),
		GetJob:     handler.NewGetJobHandler(svc),
		JobStatus:  handler.NewJobStatusHandler(svc),
		JobResults: handler.NewJobResultsHandler(svc),
		ExportJob:  handler.NewExportJobHandler(svc),
		CancelJob:  handler.NewCancelJobHandler(svc),
		DeleteJob:  handler.NewDeleteJobHandler(svc),

		EnrichHandler: handler.NewEnrichHandler(svc),

		Usage: handler.NewUsageHandler(svc),
		Stats: handler.NewStatsHandler(svc),
	}
}
