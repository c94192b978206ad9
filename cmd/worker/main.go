// Package main is the entrypoint for the AgentIQ job worker: it consumes
// enrichment runs from the queue and sweeps stale jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/agentiq/internal/app"
	"github.com/kiranshivaraju/agentiq/internal/config"
	"golang.org/x/sync/errgroup"
)

var errMemoryBackend = errors.New("the memory queue backend is process-local; run the API server alone or set QUEUE_BACKEND to redis or nats")

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Queue.Backend == "memory" {
		return errMemoryBackend
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, app.Options{Consumer: os.Getenv("WORKER_NAME")})
	if err != nil {
		return err
	}
	defer rt.Close()

	worker, sweeper := rt.NewWorker(), rt.NewSweeper()
	slog.Info("worker starting",
		"queue", cfg.Queue.Name,
		"backend", cfg.Queue.Backend,
		"concurrency", cfg.Worker.Concurrency,
		"soft_time_limit", cfg.Worker.SoftTimeLimit,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}
