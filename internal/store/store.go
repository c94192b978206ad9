package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrLimitExceeded is returned by CreateJob when the tenant already has the
// maximum number of active jobs.
var ErrLimitExceeded = errors.New("active job limit exceeded")

// ErrConflict is returned when a conditional update matched no row.
var ErrConflict = errors.New("conditional update matched no rows")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	// CreateJob inserts a queued job unless the tenant already has maxActive
	// queued or running jobs. maxActive <= 0 disables the check.
	CreateJob(ctx context.Context, job *models.Job, maxActive int) error
	GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error)
	GetJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJobStatus(ctx context.Context, id uuid.UUID) (string, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	SetJobRunID(ctx context.Context, id uuid.UUID, runID string) error
	// StartJob moves a queued or running job to running. It reports false when
	// the job is already terminal.
	StartJob(ctx context.Context, id uuid.UUID, runID string) (bool, error)
	IncrementJobProgress(ctx context.Context, id uuid.UUID, delta ProgressDelta) error
	ReconcileJobProgress(ctx context.Context, id uuid.UUID) error
	// FinishJob sets a terminal status if the current status is one of from.
	// It reports whether the row changed.
	FinishJob(ctx context.Context, id uuid.UUID, status string, from []string, opts ...JobUpdateOption) (bool, error)
	FailStaleJobs(ctx context.Context, cutoff time.Time, message string) ([]JobRef, error)
	DeleteJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
	JobHealth(ctx context.Context, staleCutoff time.Time) (*models.JobHealth, error)

	// SaveEnrichment writes a result and its usage record in one transaction.
	// It reports false when a result for the same (job, input name) exists.
	SaveEnrichment(ctx context.Context, result *models.EnrichmentResult, usage *models.UsageRecord) (bool, error)
	ProcessedItems(ctx context.Context, jobID uuid.UUID) (map[string]string, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]*models.EnrichmentResult, int, error)
	StreamResults(ctx context.Context, jobID uuid.UUID, fn func(*models.EnrichmentResult) error) error

	// UsageSummary totals a tenant's usage since the given time and returns
	// up to limit of the newest records.
	UsageSummary(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) (*models.UsageSummary, error)
	// TenantStats reports a tenant's enrichment totals. Jobs created since
	// monthStart count towards JobsThisMonth.
	TenantStats(ctx context.Context, tenantID uuid.UUID, monthStart time.Time, recentJobs int) (*models.TenantStats, error)
}

// JobRef identifies a job together with its owning tenant.
type JobRef struct {
	ID       uuid.UUID
	TenantID uuid.UUID
}

type JobFilter struct {
	TenantID uuid.UUID
	Status   string
	Page     int
	Limit    int
}

type ResultFilter struct {
	JobID  uuid.UUID
	Status string
	Page   int
	Limit  int
}

// ProgressDelta is a batch of counter increments applied atomically.
type ProgressDelta struct {
	Completed int
	Failed    int
	Credits   int
}

// IsZero reports whether applying the delta would be a no-op.
func (d ProgressDelta) IsZero() bool {
	return d.Completed == 0 && d.Failed == 0 && d.Credits == 0
}

// JobUpdate holds the optional fields of a job status change.
type JobUpdate struct {
	ErrorMessage *string
}

type JobUpdateOption func(*JobUpdate)

// NewJobUpdate applies opts to an empty JobUpdate.
func NewJobUpdate(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ErrorMessage = &msg
	}
}
