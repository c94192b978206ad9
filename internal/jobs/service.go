// Package jobs owns the lifecycle of enrichment batches: submission, the
// per-run orchestration loop executed by workers, cancellation, export and
// the stale-job sweep.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentiq/internal/agent"
	"github.com/kiranshivaraju/agentiq/internal/cache"
	"github.com/kiranshivaraju/agentiq/internal/config"
	"github.com/kiranshivaraju/agentiq/internal/queue"
	"github.com/kiranshivaraju/agentiq/internal/store"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

const (
	statusTTL = 24 * time.Hour

	defaultUsageDays = 30
	maxUsageDays     = 365
	usageRecordLimit = 500
	statsWindowDays  = 30
	statsRecentJobs  = 5
)

// Enricher researches one item and stores its result.
type Enricher interface {
	Enrich(ctx context.Context, in agent.Input) (*agent.Outcome, error)
	Model() string
}

// Scheduler hands job runs to workers and revokes them.
type Scheduler interface {
	Enqueue(ctx context.Context, task queue.Task) (string, error)
	Revoke(ctx context.Context, runID string) error
	IsRevoked(ctx context.Context, runID string) (bool, error)
}

// Options bounds what tenants may submit.
type Options struct {
	MaxBatchSize           int
	MaxConcurrentPerTenant int
	StaleAfter             time.Duration
	// SingleTimeout bounds one synchronous enrichment.
	SingleTimeout          time.Duration
}

// OptionsFrom maps job configuration onto Options.
func OptionsFrom(cfg config.JobsConfig) Options {
	return Options{
		MaxBatchSize:           cfg.MaxBatchSize,
		MaxConcurrentPerTenant: cfg.MaxConcurrentPerTenant,
		StaleAfter:             cfg.StaleAfter,
		SingleTimeout:          cfg.SingleEnrichTimeout,
	}
}

// SubmitRequest is a batch submission. Websites maps a company name to a
// hint and fills in items that have none; Context does the same for extra
// prompt facts.
type SubmitRequest struct {
	TenantID uuid.UUID
	Name     string
	Items    []models.Item
	Websites map[string]string
	Context  map[string]map[string]string
}

// ResultQuery selects a page of a job's results.
type ResultQuery struct {
	Status string
	Page   int
	Limit  int
}

// Service is the API-facing side of the job lifecycle.
type Service struct {
	store    store.Store
	cache    cache.Cache
	sched    Scheduler
	enricher Enricher
	opts     Options
	now      func() time.Time
}

// NewService creates a Service. cache may be nil.
func NewService(st store.Store, c cache.Cache, sched Scheduler, enricher Enricher, opts Options) *Service {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 500
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 2 * time.Hour
	}
	if opts.SingleTimeout <= 0 {
		opts.SingleTimeout = 120 * time.Second
	}
	return &Service{
		store:    st,
		cache:    c,
		sched:    sched,
		enricher: enricher,
		opts:     opts,
		now:      time.Now,
	}
}

// Submit validates a batch, creates a queued job and schedules its run.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	items := normalizeItems(req.Items, req.Websites, req.Context)
	if len(items) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(items) > s.opts.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d companies, limit is %d", ErrBatchTooLarge, len(items), s.opts.MaxBatchSize)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("Enrichment %d companies", len(items))
	}

	now := s.now().UTC()
	job := &models.Job{
		ID:         uuid.New(),
		TenantID:   req.TenantID,
		Name:       name,
		Status:     models.JobStatusQueued,
		Items:      items,
		TotalItems: len(items),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateJob(ctx, job, s.opts.MaxConcurrentPerTenant); err != nil {
		if errors.Is(err, store.ErrLimitExceeded) {
			return nil, fmt.Errorf("%w: limit is %d", ErrTooManyActiveJobs, s.opts.MaxConcurrentPerTenant)
		}
		return nil, fmt.Errorf("creating job: %w", err)
	}
	s.cacheStatus(ctx, job, job.Status)

	runID, err := s.sched.Enqueue(ctx, queue.Task{JobID: job.ID})
	if err != nil {
		slog.Error("enqueueing job failed", "job_id", job.ID, "error", err)
		if _, ferr := s.store.FinishJob(ctx, job.ID, models.JobStatusFailed,
			[]string{models.JobStatusQueued}, store.WithErrorMessage(msgQueueUnavailable)); ferr != nil {
			slog.Error("marking unqueued job failed", "job_id", job.ID, "error", ferr)
		}
		s.cacheStatus(ctx, job, models.JobStatusFailed)
		if errors.Is(err, queue.ErrBrokerUnavailable) {
			return nil, ErrQueueUnavailable
		}
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}

	if err := s.store.SetJobRunID(ctx, job.ID, runID); err != nil {
		slog.Warn("recording run id failed", "job_id", job.ID, "run_id", runID, "error", err)
	}
	job.RunID = &runID

	slog.Info("job submitted", "job_id", job.ID, "tenant_id", job.TenantID, "items", job.TotalItems, "run_id", runID)
	return job, nil
}

// normalizeItems trims names, drops empties and keeps the first occurrence
// of each name. A later duplicate only contributes a hint or context when the
// first had none.
func normalizeItems(in []models.Item, websites map[string]string, contexts map[string]map[string]string) []models.Item {
	out := make([]models.Item, 0, len(in))
	index := make(map[string]int, len(in))
	for _, it := range in {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		hint := strings.TrimSpace(it.Hint)
		if i, seen := index[name]; seen {
			if out[i].Hint == "" {
				out[i].Hint = hint
			}
			if len(out[i].Context) == 0 {
				out[i].Context = it.Context
			}
			continue
		}
		index[name] = len(out)
		out = append(out, models.Item{Name: name, Hint: hint, Context: it.Context})
	}
	for i := range out {
		if out[i].Hint == "" {
			out[i].Hint = strings.TrimSpace(websites[out[i].Name])
		}
		if len(out[i].Context) == 0 {
			out[i].Context = contexts[out[i].Name]
		}
	}
	return out
}

// Get returns a tenant's job.
func (s *Service) Get(ctx context.Context, tenantID, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// Status returns the job status, preferring the cached copy written on
// every transition.
func (s *Service) Status(ctx context.Context, tenantID, jobID uuid.UUID) (string, error) {
	if s.cache != nil {
		status, ok, err := s.cache.GetJobStatus(ctx, tenantID, jobID)
		if err != nil {
			slog.Warn("job status cache read failed", "job_id", jobID, "error", err)
		}
		if ok {
			return status, nil
		}
	}
	job, err := s.Get(ctx, tenantID, jobID)
	if err != nil {
		return "", err
	}
	s.cacheStatus(ctx, job, job.Status)
	return job.Status, nil
}

// List returns a page of a tenant's jobs, newest first.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, status string, page, limit int) ([]*models.Job, int, error) {
	if status != "" && !validJobStatus(status) {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidStatusQuery, status)
	}
	if page < 0 || limit < 0 {
		return nil, 0, ErrInvalidPagination
	}
	jobs, total, err := s.store.ListJobs(ctx, store.JobFilter{
		TenantID: tenantID,
		Status:   status,
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, total, nil
}

// Results returns a page of a job's per-item results.
func (s *Service) Results(ctx context.Context, tenantID, jobID uuid.UUID, q ResultQuery) ([]*models.EnrichmentResult, int, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = 50
	}
	if q.Page < 1 || q.Limit < 1 || q.Limit > 500 {
		return nil, 0, fmt.Errorf("%w: page must be >= 1 and limit between 1 and 500", ErrInvalidPagination)
	}
	if q.Status != "" && q.Status != models.ResultStatusCompleted && q.Status != models.ResultStatusFailed {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidStatusQuery, q.Status)
	}

	if _, err := s.Get(ctx, tenantID, jobID); err != nil {
		return nil, 0, err
	}
	results, total, err := s.store.ListResults(ctx, store.ResultFilter{
		JobID:  jobID,
		Status: q.Status,
		Page:   q.Page,
		Limit:  q.Limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing results: %w", err)
	}
	return results, total, nil
}

// Cancel stops a queued or running job. Revoking the scheduled run is best
// effort; items already processed stay recorded.
func (s *Service) Cancel(ctx context.Context, tenantID, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.Get(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCancellable, job.Status)
	}

	if job.RunID != nil && *job.RunID != "" {
		if err := s.sched.Revoke(ctx, *job.RunID); err != nil {
			slog.Warn("revoking run failed", "job_id", jobID, "run_id", *job.RunID, "error", err)
		}
	}

	changed, err := s.store.FinishJob(ctx, jobID, models.JobStatusCancelled, models.ActiveJobStatuses)
	if err != nil {
		return nil, fmt.Errorf("cancelling job: %w", err)
	}

	job, err = s.Get(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if !changed && job.Status != models.JobStatusCancelled {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCancellable, job.Status)
	}
	s.cacheStatus(ctx, job, job.Status)

	slog.Info("job cancelled", "job_id", jobID, "completed_items", job.CompletedItems)
	return job, nil
}

// Export writes every result of the job as CSV.
func (s *Service) Export(ctx context.Context, tenantID, jobID uuid.UUID, w io.Writer) error {
	if _, err := s.Get(ctx, tenantID, jobID); err != nil {
		return err
	}
	return WriteCSV(ctx, w, func(fn func(*models.EnrichmentResult) error) error {
		return s.store.StreamResults(ctx, jobID, fn)
	})
}

// Delete removes a finished job with its results and usage records.
func (s *Service) Delete(ctx context.Context, tenantID, jobID uuid.UUID) error {
	job, err := s.Get(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return ErrJobActive
	}
	if err := s.store.DeleteJob(ctx, jobID, tenantID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrJobActive
		}
		return fmt.Errorf("deleting job: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.DeleteJobStatus(ctx, tenantID, jobID); err != nil {
			slog.Warn("job status cache delete failed", "job_id", jobID, "error", err)
		}
	}
	slog.Info("job deleted", "job_id", jobID)
	return nil
}

// EnrichSingle researches one company outside any job.
func (s *Service) EnrichSingle(ctx context.Context, tenantID uuid.UUID, company, website string) (*models.EnrichmentResult, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return nil, fmt.Errorf("%w: company is required", ErrInvalidInput)
	}
	in := agent.Input{TenantID: tenantID, Name: company}
	if website = strings.TrimSpace(website); website != "" {
		in.Hint = &website
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.SingleTimeout)
	defer cancel()
	out, err := s.enricher.Enrich(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("enriching %q: %w", company, err)
	}
	return out.Result, nil
}

// Usage totals the tenant's credits, tokens and billed calls over the last
// days days. Zero selects the default period.
func (s *Service) Usage(ctx context.Context, tenantID uuid.UUID, days int) (*models.UsageSummary, error) {
	if days == 0 {
		days = defaultUsageDays
	}
	if days < 1 || days > maxUsageDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidInput, maxUsageDays)
	}
	since := s.now().UTC().AddDate(0, 0, -days)
	sum, err := s.store.UsageSummary(ctx, tenantID, since, usageRecordLimit)
	if err != nil {
		return nil, fmt.Errorf("summarising usage: %w", err)
	}
	sum.PeriodDays = days
	return sum, nil
}

// Stats reports the tenant's enrichment totals and most recent jobs.
func (s *Service) Stats(ctx context.Context, tenantID uuid.UUID) (*models.TenantStats, error) {
	since := s.now().UTC().AddDate(0, 0, -statsWindowDays)
	st, err := s.store.TenantStats(ctx, tenantID, since, statsRecentJobs)
	if err != nil {
		return nil, fmt.Errorf("loading stats: %w", err)
	}
	return st, nil
}

// Health reports job counts by state.
func (s *Service) Health(ctx context.Context) (*models.JobHealth, error) {
	return s.store.JobHealth(ctx, s.now().Add(-s.opts.StaleAfter))
}

func (s *Service) cacheStatus(ctx context.Context, job *models.Job, status string) {
	setCachedStatus(ctx, s.cache, job.TenantID, job.ID, status)
}

func setCachedStatus(ctx context.Context, c cache.Cache, tenantID, jobID uuid.UUID, status string) {
	if c == nil {
		return
	}
	if err := c.SetJobStatus(ctx, tenantID, jobID, status, statusTTL); err != nil {
		slog.Warn("job status cache write failed", "job_id", jobID, "status", status, "error", err)
	}
}

func validJobStatus(status string) bool {
	switch status {
	case models.JobStatusQueued, models.JobStatusRunning:
		return true
	}
	return models.IsTerminalJobStatus(status)
}

func truncateMessage(s string) string {
	if utf8.RuneCountInString(s) <= maxJobErrorRunes {
		return s
	}
	return string([]rune(s)[:maxJobErrorRunes])
}
