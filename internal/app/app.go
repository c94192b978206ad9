// Package app assembles the long-lived dependencies shared by the agentiq
// binaries from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/agentiq/internal/agent"
	"github.com/kiranshivaraju/agentiq/internal/ai"
	"github.com/kiranshivaraju/agentiq/internal/ai/openai"
	"github.com/kiranshivaraju/agentiq/internal/cache"
	"github.com/kiranshivaraju/agentiq/internal/config"
	"github.com/kiranshivaraju/agentiq/internal/jobs"
	"github.com/kiranshivaraju/agentiq/internal/queue"
	"github.com/kiranshivaraju/agentiq/internal/store"
	"github.com/kiranshivaraju/agentiq/internal/tools"
	"github.com/kiranshivaraju/agentiq/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Options selects what Open sets up.
type Options struct {
	// Migrate applies pending schema migrations after connecting.
	Migrate bool
	// Consumer names this process to the queue broker. Empty derives one.
	Consumer string
}

// Runtime holds the wired components. Close releases them in reverse order.
type Runtime struct {
	Config   *config.Config
	Pool     *pgxpool.Pool
	Store    *store.PostgresStore
	Cache    cache.Cache
	Broker   queue.Broker
	Provider models.ChatProvider
	Tools    *tools.Executor
	Agent    *agent.Agent
	Jobs     *jobs.Service

	closers []func() error
}

// Open connects to every backing service named in cfg and builds the
// enrichment stack on top of them.
func Open(ctx context.Context, cfg *config.Config, opts Options) (_ *Runtime, err error) {
	rt := &Runtime{Config: cfg}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	rt.Pool, err = store.Connect(ctx, cfg.Database, cfg.Worker.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	rt.onClose(func() error { rt.Pool.Close(); return nil })
	slog.Info("database connected")

	if opts.Migrate {
		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
	}
	rt.Store = store.NewPostgresStore(rt.Pool)

	var redisClient *redis.Client
	rt.Cache, redisClient, err = OpenCache(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	rt.onClose(rt.Cache.Close)

	rt.Broker, err = OpenBroker(ctx, cfg.Queue, redisClient, opts.Consumer)
	if err != nil {
		return nil, err
	}
	rt.onClose(rt.Broker.Close)
	slog.Info("queue broker ready", "backend", cfg.Queue.Backend, "queue", cfg.Queue.Name)

	rt.Provider, err = NewProvider(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", rt.Provider.Name(), "model", rt.Provider.Model())

	rt.Tools = tools.NewExecutor(cfg.Tools, rt.Cache)
	rt.Agent, err = agent.New(agent.ConfigFrom(cfg.AI, cfg.Agent), rt.Provider, rt.Tools, rt.Store)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	rt.Jobs = jobs.NewService(rt.Store, rt.Cache, rt.Broker, rt.Agent, jobs.OptionsFrom(cfg.Jobs))
	return rt, nil
}

// NewWorker builds a dispatch loop that runs jobs through the agent.
func (rt *Runtime) NewWorker() *queue.Worker {
	runner := jobs.NewRunner(rt.Store, rt.Cache, rt.Broker, rt.Agent, jobs.RunnerOptionsFrom(rt.Config.Worker))
	return queue.NewWorker(rt.Broker, runner, queue.WorkerOptionsFrom(rt.Config.Worker))
}

// NewSweeper builds the stale-job sweep.
func (rt *Runtime) NewSweeper() *jobs.Sweeper {
	return jobs.NewSweeper(rt.Store, rt.Cache, rt.Config.Jobs.StaleAfter, rt.Config.Jobs.SweepInterval)
}

// Close releases everything Open acquired.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func (rt *Runtime) onClose(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// NewProvider builds the configured chat provider on the OpenAI-compatible
// client, paced to the configured request rate.
func NewProvider(cfg config.AIConfig) (models.ChatProvider, error) {
	limiter := openai.NewLimiter(cfg.RequestsPerMinute)
	return ai.NewProvider(cfg, func(name string, pc config.ProviderConfig) models.ChatProvider {
		return openai.NewProvider(name, pc,
			openai.WithLimiter(limiter),
			// Backstop only; each call carries its own deadline.
			openai.WithHTTPClient(&http.Client{Timeout: cfg.InferenceTimeout + 30*time.Second}),
		)
	})
}

// OpenCache returns a Redis cache when a URL is configured, and an
// in-process cache otherwise. The Redis client is returned for reuse by the
// queue broker and is nil for the in-process cache.
func OpenCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, *redis.Client, error) {
	if cfg.URL == "" {
		slog.Warn("REDIS_URL not set, using in-process cache")
		return cache.NewMemoryCache(), nil, nil
	}
	rc, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := rc.Ping(ctx); err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return rc, rc.Client(), nil
}

// OpenBroker builds the configured queue broker. The redis backend shares
// client with the cache.
func OpenBroker(ctx context.Context, cfg config.QueueConfig, client *redis.Client, consumer string) (queue.Broker, error) {
	switch cfg.Backend {
	case "redis":
		if client == nil {
			return nil, errors.New("redis queue backend requires REDIS_URL")
		}
		return queue.NewRedisBroker(client, queue.RedisOptions{Name: cfg.Name, Consumer: consumer}), nil
	case "nats":
		b, err := queue.DialNATS(ctx, cfg.NATSURL, queue.NATSOptions{Name: cfg.Name})
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		return b, nil
	case "memory":
		return queue.NewMemoryBroker(0), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
