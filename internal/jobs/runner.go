package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/agentiq/internal/agent"
	"github.com/kiranshivaraju/agentiq/internal/cache"
	"github.com/kiranshivaraju/agentiq/internal/config"
	"github.com/kiranshivaraju/agentiq/internal/queue"
	"github.com/kiranshivaraju/agentiq/internal/store"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

// RunnerOptions paces the per-item loop.
type RunnerOptions struct {
	// CommitBatchSize is how many processed items are buffered before the
	// job counters are flushed.
	CommitBatchSize int
	// ItemDelay is the pause between items.
	ItemDelay time.Duration
}

// RunnerOptionsFrom maps worker configuration onto RunnerOptions.
func RunnerOptionsFrom(cfg config.WorkerConfig) RunnerOptions {
	return RunnerOptions{CommitBatchSize: cfg.CommitBatchSize, ItemDelay: cfg.ItemDelay}
}

// Runner executes one scheduled run of a job. It implements queue.Handler.
type Runner struct {
	store    store.Store
	cache    cache.Cache
	sched    Scheduler
	enricher Enricher
	opts     RunnerOptions

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a Runner. cache may be nil.
func NewRunner(st store.Store, c cache.Cache, sched Scheduler, enricher Enricher, opts RunnerOptions) *Runner {
	if opts.CommitBatchSize <= 0 {
		opts.CommitBatchSize = 10
	}
	if opts.ItemDelay < 0 {
		opts.ItemDelay = 0
	}
	return &Runner{
		store:    st,
		cache:    c,
		sched:    sched,
		enricher: enricher,
		opts:     opts,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// progress buffers counter increments between flushes.
type progress struct {
	pending store.ProgressDelta
	items   int
}

// Handle processes the job's remaining items in order. Items that already
// have a stored result are skipped, so a redelivered run resumes where the
// previous one stopped.
func (r *Runner) Handle(ctx context.Context, task queue.Task, softDeadline time.Time) error {
	log := slog.With("job_id", task.JobID, "run_id", task.RunID, "attempt", task.Attempt)

	job, err := r.store.GetJobByID(ctx, task.JobID)
	if errors.Is(err, store.ErrNotFound) {
		return queue.Permanent(fmt.Errorf("%w: %s", ErrJobNotFound, task.JobID))
	}
	if err != nil {
		return fmt.Errorf("loading job: %w", err)
	}
	if job.IsTerminal() {
		log.Info("job already finished, nothing to run", "status", job.Status)
		return nil
	}

	started, err := r.store.StartJob(ctx, job.ID, task.RunID)
	if err != nil {
		return fmt.Errorf("starting job: %w", err)
	}
	if !started {
		log.Info("job left the active states before start")
		return nil
	}
	r.cacheStatus(ctx, job, models.JobStatusRunning)

	if err := r.store.ReconcileJobProgress(ctx, job.ID); err != nil {
		return fmt.Errorf("reconciling progress: %w", err)
	}
	done, err := r.store.ProcessedItems(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("loading processed items: %w", err)
	}
	log.Info("job run started", "total_items", len(job.Items), "already_processed", len(done))

	var p progress
	last := len(job.Items) - 1
	for i, item := range job.Items {
		if _, ok := done[item.Name]; ok {
			continue
		}

		if stop, err := r.shouldStop(ctx, job, task.RunID); err != nil || stop {
			if ferr := r.flush(context.WithoutCancel(ctx), job, &p); ferr != nil {
				return ferr
			}
			return err
		}

		if !r.now().Before(softDeadline) {
			return r.finishPartial(ctx, job, &p)
		}

		if err := r.processItem(ctx, job, item, &p); err != nil {
			// Only cancellation escapes an item.
			if ferr := r.flush(context.WithoutCancel(ctx), job, &p); ferr != nil {
				log.Error("flushing progress on cancellation failed", "error", ferr)
			}
			return err
		}

		if p.items >= r.opts.CommitBatchSize || i == last {
			if err := r.flush(ctx, job, &p); err != nil {
				return err
			}
		}

		if i < last && r.opts.ItemDelay > 0 {
			if err := r.sleep(ctx, r.opts.ItemDelay); err != nil {
				if ferr := r.flush(context.WithoutCancel(ctx), job, &p); ferr != nil {
					log.Error("flushing progress on cancellation failed", "error", ferr)
				}
				return err
			}
		}
	}

	if err := r.flush(ctx, job, &p); err != nil {
		return err
	}
	changed, err := r.store.FinishJob(ctx, job.ID, models.JobStatusCompleted, []string{models.JobStatusRunning})
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	if changed {
		r.cacheStatus(ctx, job, models.JobStatusCompleted)
		log.Info("job completed")
	}
	return nil
}

// shouldStop reports whether the job was cancelled or its run revoked.
func (r *Runner) shouldStop(ctx context.Context, job *models.Job, runID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}
	status, err := r.store.GetJobStatus(ctx, job.ID)
	if err != nil {
		return true, fmt.Errorf("checking job status: %w", err)
	}
	if status != models.JobStatusRunning {
		slog.Info("job no longer running, stopping", "job_id", job.ID, "status", status)
		return true, nil
	}
	revoked, err := r.sched.IsRevoked(ctx, runID)
	if err != nil {
		slog.Warn("revocation check failed", "job_id", job.ID, "run_id", runID, "error", err)
		return false, nil
	}
	if revoked {
		slog.Info("run revoked, stopping", "job_id", job.ID, "run_id", runID)
	}
	return revoked, nil
}

// processItem runs the agent for one item. Agent failures are contained in
// a synthetic failed result; only cancellation is returned.
func (r *Runner) processItem(ctx context.Context, job *models.Job, item models.Item, p *progress) error {
	in := agent.Input{TenantID: job.TenantID, JobID: &job.ID, Name: item.Name, Context: item.Context}
	if item.Hint != "" {
		hint := item.Hint
		in.Hint = &hint
	}

	out, err := r.enricher.Enrich(ctx, in)
	if err == nil {
		p.items++
		if !out.Created {
			return nil
		}
		if out.Result.Status == models.ResultStatusCompleted {
			p.pending.Completed++
		} else {
			p.pending.Failed++
		}
		p.pending.Credits++
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	slog.Error("item failed", "job_id", job.ID, "item", item.Name, "error", err)
	p.items++

	stats := agent.RunStats{Model: r.enricher.Model(), EnrichedAt: r.now().UTC()}
	result := agent.FailedResult(in, stats, err.Error())
	created, serr := r.store.SaveEnrichment(ctx, result, agent.UsageFor(result, stats))
	switch {
	case serr != nil:
		// The item still counts as failed; the next run reconciles counters.
		slog.Error("saving failed result", "job_id", job.ID, "item", item.Name, "error", serr)
		p.pending.Failed++
	case created:
		p.pending.Failed++
		p.pending.Credits++
	}
	return nil
}

// flush applies buffered counters. A guard violation means counters drifted
// from the stored results, so they are recomputed instead.
func (r *Runner) flush(ctx context.Context, job *models.Job, p *progress) error {
	if p.pending.IsZero() {
		p.items = 0
		return nil
	}
	err := r.store.IncrementJobProgress(ctx, job.ID, p.pending)
	if errors.Is(err, store.ErrConflict) {
		slog.Warn("progress increment rejected, reconciling", "job_id", job.ID)
		err = r.store.ReconcileJobProgress(ctx, job.ID)
	}
	if err != nil {
		return fmt.Errorf("flushing progress: %w", err)
	}
	p.pending = store.ProgressDelta{}
	p.items = 0
	return nil
}

func (r *Runner) finishPartial(ctx context.Context, job *models.Job, p *progress) error {
	if err := r.flush(ctx, job, p); err != nil {
		return err
	}
	changed, err := r.store.FinishJob(ctx, job.ID, models.JobStatusPartial,
		[]string{models.JobStatusRunning}, store.WithErrorMessage(msgSoftTimeLimit))
	if err != nil {
		return fmt.Errorf("marking job partial: %w", err)
	}
	if changed {
		r.cacheStatus(ctx, job, models.JobStatusPartial)
		slog.Warn("soft time limit reached, job partial", "job_id", job.ID)
	}
	return nil
}

// Abandon marks the job failed once the scheduler gives up on it.
func (r *Runner) Abandon(ctx context.Context, task queue.Task, reason string) error {
	changed, err := r.store.FinishJob(ctx, task.JobID, models.JobStatusFailed,
		models.ActiveJobStatuses, store.WithErrorMessage(truncateMessage(reason)))
	if err != nil {
		return fmt.Errorf("failing abandoned job: %w", err)
	}
	if changed {
		slog.Error("job failed", "job_id", task.JobID, "run_id", task.RunID, "reason", reason)
		job, err := r.store.GetJobByID(ctx, task.JobID)
		if err != nil {
			slog.Warn("loading abandoned job for status cache failed", "job_id", task.JobID, "error", err)
			return nil
		}
		r.cacheStatus(ctx, job, models.JobStatusFailed)
	}
	return nil
}

func (r *Runner) cacheStatus(ctx context.Context, job *models.Job, status string) {
	setCachedStatus(ctx, r.cache, job.TenantID, job.ID, status)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ queue.Handler = (*Runner)(nil)
