package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/agentiq/internal/config"
)

var (
	errRevoked        = errors.New("run revoked")
	errHardTimeLimit  = errors.New("hard time limit exceeded")
	errWorkerShutdown = errors.New("worker shutting down")
)

// WorkerOptions controls how a Worker runs tasks.
type WorkerOptions struct {
	Concurrency       int
	SoftTimeLimit     time.Duration
	HardTimeLimit     time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	HeartbeatInterval time.Duration
	// BrokerBackoff is the pause after a failed Dequeue.
	BrokerBackoff time.Duration
}

// WorkerOptionsFrom maps worker configuration onto WorkerOptions.
func WorkerOptionsFrom(cfg config.WorkerConfig) WorkerOptions {
	return WorkerOptions{
		Concurrency:       cfg.Concurrency,
		SoftTimeLimit:     cfg.SoftTimeLimit,
		HardTimeLimit:     cfg.HardTimeLimit,
		MaxRetries:        cfg.MaxRetries,
		RetryDelay:        cfg.RetryDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}
}

// Worker pulls tasks from a Broker and runs them through a Handler. Each
// concurrency slot holds at most one task at a time, and a task is acked
// only after the handler returns.
type Worker struct {
	broker  Broker
	handler Handler
	opts    WorkerOptions
	now     func() time.Time
}

// NewWorker creates a Worker. Zero options fall back to one slot, a one-hour
// soft limit with five minutes of grace, three retries a minute apart and a
// thirty-second heartbeat.
func NewWorker(broker Broker, handler Handler, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.SoftTimeLimit <= 0 {
		opts.SoftTimeLimit = time.Hour
	}
	if opts.HardTimeLimit <= opts.SoftTimeLimit {
		opts.HardTimeLimit = opts.SoftTimeLimit + 5*time.Minute
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Minute
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.BrokerBackoff <= 0 {
		opts.BrokerBackoff = time.Second
	}
	return &Worker{broker: broker, handler: handler, opts: opts, now: time.Now}
}

// Run processes tasks until ctx is cancelled. In-flight runs are cancelled
// on shutdown and handed back to the broker for another worker.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker started", "concurrency", w.opts.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for slot := range w.opts.Concurrency {
		g.Go(func() error {
			w.loop(gctx, slot)
			return nil
		})
	}
	err := g.Wait()

	slog.Info("worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, slot int) {
	for ctx.Err() == nil {
		d, err := w.broker.Dequeue(ctx)
		switch {
		case errors.Is(err, ErrNoTask):
			continue
		case ctx.Err() != nil:
			return
		case err != nil:
			slog.Warn("dequeue failed", "slot", slot, "error", err)
			if !sleepCtx(ctx, w.opts.BrokerBackoff) {
				return
			}
			continue
		}
		w.process(ctx, slot, d)
	}
}

// process runs one delivery to completion and settles it with the broker.
func (w *Worker) process(ctx context.Context, slot int, d *Delivery) {
	log := slog.With("slot", slot, "run_id", d.Task.RunID, "job_id", d.Task.JobID, "attempt", d.Attempt)
	settle, cancelSettle := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelSettle()

	revoked, err := w.broker.IsRevoked(ctx, d.Task.RunID)
	if err != nil {
		log.Warn("revocation check failed", "error", err)
	}
	if revoked {
		log.Info("skipping revoked run")
		w.ack(settle, log, d)
		return
	}

	start := w.now()
	softDeadline := start.Add(w.opts.SoftTimeLimit)
	runCtx, cancelRun := context.WithCancelCause(ctx)
	runCtx, cancelHard := context.WithTimeoutCause(runCtx, w.opts.HardTimeLimit, errHardTimeLimit)
	defer cancelHard()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.heartbeat(runCtx, d, stop, cancelRun)
	}()

	log.Info("run started", "soft_deadline", softDeadline)
	err = w.handler.Handle(runCtx, d.Task, softDeadline)
	close(stop)
	wg.Wait()

	cause := context.Cause(runCtx)
	if ctx.Err() != nil && err != nil {
		cause = errWorkerShutdown
	}
	cancelRun(nil)

	switch {
	case errors.Is(cause, errWorkerShutdown):
		log.Info("releasing run on shutdown")
		if err := w.broker.Release(settle, d); err != nil {
			log.Error("release failed", "error", err)
		}

	case errors.Is(cause, errRevoked):
		log.Info("run revoked", "elapsed", w.now().Sub(start))
		w.ack(settle, log, d)

	case errors.Is(cause, errHardTimeLimit):
		log.Error("run exceeded hard time limit", "limit", w.opts.HardTimeLimit)
		w.ack(settle, log, d)
		w.abandon(settle, log, d, errHardTimeLimit.Error())

	case err == nil:
		log.Info("run finished", "elapsed", w.now().Sub(start))
		w.ack(settle, log, d)

	case IsPermanent(err) || d.Attempt > w.opts.MaxRetries:
		log.Error("run failed permanently", "error", err)
		w.ack(settle, log, d)
		w.abandon(settle, log, d, err.Error())

	default:
		log.Warn("run failed, retrying", "error", err, "retry_in", w.opts.RetryDelay)
		if err := w.broker.Retry(settle, d, w.opts.RetryDelay); err != nil {
			log.Error("scheduling retry failed", "error", err)
		}
	}
}

// heartbeat renews the lease and watches for revocation until stop closes.
func (w *Worker) heartbeat(ctx context.Context, d *Delivery, stop <-chan struct{}, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := w.broker.Extend(ctx, d); err != nil {
			slog.Warn("lease renewal failed", "run_id", d.Task.RunID, "error", err)
		}
		revoked, err := w.broker.IsRevoked(ctx, d.Task.RunID)
		if err != nil {
			slog.Warn("revocation check failed", "run_id", d.Task.RunID, "error", err)
			continue
		}
		if revoked {
			cancel(errRevoked)
			return
		}
	}
}

func (w *Worker) ack(ctx context.Context, log *slog.Logger, d *Delivery) {
	if err := w.broker.Ack(ctx, d); err != nil {
		log.Error("ack failed", "error", err)
	}
}

func (w *Worker) abandon(ctx context.Context, log *slog.Logger, d *Delivery, reason string) {
	if err := w.handler.Abandon(ctx, d.Task, reason); err != nil {
		log.Error("abandon failed", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
