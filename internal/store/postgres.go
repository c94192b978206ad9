package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM tenants WHERE name = 'default' LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default tenant: %w", err)
	}
	return &t, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, tenant_id, name, status, items, total_items, completed_items, failed_items,
	progress_pct, credits_used, run_id, error_message, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var items []byte
	if err := row.Scan(&j.ID, &j.TenantID, &j.Name, &j.Status, &items, &j.TotalItems,
		&j.CompletedItems, &j.FailedItems, &j.ProgressPct, &j.CreditsUsed, &j.RunID,
		&j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &j.Items); err != nil {
			return nil, fmt.Errorf("decode job items: %w", err)
		}
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job, maxActive int) error {
	items, err := json.Marshal(job.Items)
	if err != nil {
		return fmt.Errorf("encode job items: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create job: %w", err)
	}
	defer tx.Rollback(ctx)

	if maxActive > 0 {
		// Serializes submissions per tenant so the count below cannot race.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`,
			job.TenantID.String()); err != nil {
			return fmt.Errorf("lock tenant: %w", err)
		}
		var active int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM jobs WHERE tenant_id = $1 AND status = ANY($2)`,
			job.TenantID, models.ActiveJobStatuses,
		).Scan(&active); err != nil {
			return fmt.Errorf("count active jobs: %w", err)
		}
		if active >= maxActive {
			return ErrLimitExceeded
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO jobs (id, tenant_id, name, status, items, total_items, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.TenantID, job.Name, job.Status, items, job.TotalItems, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetJobStatus(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get job status: %w", err)
	}
	return status, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"tenant_id = $1"}
	args := []any{filter.TenantID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit, offset := paginate(filter.Page, filter.Limit, 20, 100)
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		// Item lists can hold hundreds of names; listings carry counts only.
		j.Items = nil
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) SetJobRunID(ctx context.Context, id uuid.UUID, runID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET run_id = $2, updated_at = NOW() WHERE id = $1`, id, runID)
	if err != nil {
		return fmt.Errorf("set job run id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) StartJob(ctx context.Context, id uuid.UUID, runID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'running', run_id = $2,
		   started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		 WHERE id = $1 AND status = ANY($3)`,
		id, runID, models.ActiveJobStatuses)
	if err != nil {
		return false, fmt.Errorf("start job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementJobProgress applies counter deltas as one atomic UPDATE. The guard
// keeps completed + failed within total_items.
func (s *PostgresStore) IncrementJobProgress(ctx context.Context, id uuid.UUID, delta ProgressDelta) error {
	if delta.IsZero() {
		return nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET
		   completed_items = completed_items + $2,
		   failed_items = failed_items + $3,
		   credits_used = credits_used + $4,
		   progress_pct = CASE WHEN total_items > 0
		     THEN (completed_items + failed_items + $2 + $3)::float8 / total_items * 100
		     ELSE 0 END,
		   updated_at = NOW()
		 WHERE id = $1 AND completed_items + failed_items + $2 + $3 <= total_items`,
		id, delta.Completed, delta.Failed, delta.Credits)
	if err != nil {
		return fmt.Errorf("increment job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ReconcileJobProgress recomputes counters from the stored results and usage
// records, so a redelivered run starts from exact totals.
func (s *PostgresStore) ReconcileJobProgress(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs j SET
		   completed_items = r.completed,
		   failed_items = r.failed,
		   credits_used = u.credits,
		   progress_pct = CASE WHEN j.total_items > 0
		     THEN (r.completed + r.failed)::float8 / j.total_items * 100
		     ELSE 0 END,
		   updated_at = NOW()
		 FROM (SELECT COUNT(*) FILTER (WHERE status = 'completed') AS completed,
		              COUNT(*) FILTER (WHERE status = 'failed') AS failed
		       FROM enrichment_results WHERE job_id = $1) r,
		      (SELECT COALESCE(SUM(credits_consumed), 0) AS credits
		       FROM usage_records WHERE job_id = $1) u
		 WHERE j.id = $1`, id)
	if err != nil {
		return fmt.Errorf("reconcile job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var validTransitions = map[string][]string{
	models.JobStatusQueued:  {models.JobStatusRunning, models.JobStatusFailed, models.JobStatusCancelled},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusPartial, models.JobStatusFailed, models.JobStatusCancelled},
}

func canTransition(from, to string) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s *PostgresStore) FinishJob(ctx context.Context, id uuid.UUID, status string, from []string, opts ...JobUpdateOption) (bool, error) {
	if !models.IsTerminalJobStatus(status) {
		return false, fmt.Errorf("finish job: %q is not a terminal status", status)
	}
	for _, f := range from {
		if !canTransition(f, status) {
			return false, fmt.Errorf("invalid job status transition: %s -> %s", f, status)
		}
	}

	params := NewJobUpdate(opts...)

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2::text,
		   completed_at = NOW(),
		   updated_at = NOW(),
		   error_message = COALESCE($3, error_message),
		   progress_pct = CASE WHEN $2::text = 'completed' THEN 100 ELSE progress_pct END
		 WHERE id = $1 AND status = ANY($4)`,
		id, status, params.ErrorMessage, from)
	if err != nil {
		return false, fmt.Errorf("finish job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) FailStaleJobs(ctx context.Context, cutoff time.Time, message string) ([]JobRef, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE jobs SET status = 'failed', error_message = $2, completed_at = NOW(), updated_at = NOW()
		 WHERE status IN ('queued', 'running')
		   AND (started_at < $1 OR (started_at IS NULL AND created_at < $1))
		 RETURNING id, tenant_id`, cutoff, message)
	if err != nil {
		return nil, fmt.Errorf("fail stale jobs: %w", err)
	}
	defer rows.Close()

	var refs []JobRef
	for rows.Next() {
		var ref JobRef
		if err := rows.Scan(&ref.ID, &ref.TenantID); err != nil {
			return nil, fmt.Errorf("scan stale job id: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE id = $1 AND tenant_id = $2 AND NOT (status = ANY($3))`,
		id, tenantID, models.ActiveJobStatuses)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) JobHealth(ctx context.Context, staleCutoff time.Time) (*models.JobHealth, error) {
	var h models.JobHealth
	err := s.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE status = 'queued'),
		   COUNT(*) FILTER (WHERE status = 'running'),
		   COUNT(*) FILTER (WHERE status IN ('queued', 'running')
		     AND (started_at < $1 OR (started_at IS NULL AND created_at < $1))),
		   COUNT(*) FILTER (WHERE status = 'failed' AND updated_at > NOW() - INTERVAL '24 hours'),
		   COUNT(*) FILTER (WHERE status = 'completed' AND updated_at > NOW() - INTERVAL '24 hours')
		 FROM jobs`, staleCutoff,
	).Scan(&h.Queued, &h.Running, &h.Stuck, &h.Failed24h, &h.Completed24h)
	if err != nil {
		return nil, fmt.Errorf("job health: %w", err)
	}
	return &h, nil
}

// --- Enrichment results ---

const resultColumns = `id, tenant_id, job_id, input_name, input_hint, company_name, website, linkedin_url,
	founded_year, headquarters, employee_count, industry, company_type, description, key_products,
	target_customers, tech_stack, recent_news, funding_info, key_contacts, confidence_score,
	enrichment_notes, status, error_message, model_used, tokens_used, tool_calls_made,
	processing_time_ms, enriched_at`

func scanResult(row pgx.Row) (*models.EnrichmentResult, error) {
	var r models.EnrichmentResult
	err := row.Scan(&r.ID, &r.TenantID, &r.JobID, &r.InputName, &r.InputHint, &r.CompanyName,
		&r.Website, &r.LinkedInURL, &r.FoundedYear, &r.Headquarters, &r.EmployeeCount, &r.Industry,
		&r.CompanyType, &r.Description, &r.KeyProducts, &r.TargetCustomers, &r.TechStack,
		&r.RecentNews, &r.FundingInfo, &r.KeyContacts, &r.ConfidenceScore, &r.EnrichmentNotes,
		&r.Status, &r.ErrorMessage, &r.ModelUsed, &r.TokensUsed, &r.ToolCallsMade,
		&r.ProcessingTimeMs, &r.EnrichedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func (s *PostgresStore) SaveEnrichment(ctx context.Context, r *models.EnrichmentResult, usage *models.UsageRecord) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin save enrichment: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO enrichment_results (`+resultColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		         $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)
		 ON CONFLICT (job_id, input_name) WHERE job_id IS NOT NULL DO NOTHING`,
		r.ID, r.TenantID, r.JobID, r.InputName, r.InputHint, r.CompanyName, r.Website,
		r.LinkedInURL, r.FoundedYear, r.Headquarters, r.EmployeeCount, r.Industry, r.CompanyType,
		r.Description, nonNil(r.KeyProducts), r.TargetCustomers, nonNil(r.TechStack), r.RecentNews,
		r.FundingInfo, nonNil(r.KeyContacts), r.ConfidenceScore, r.EnrichmentNotes, r.Status,
		r.ErrorMessage, r.ModelUsed, r.TokensUsed, r.ToolCallsMade, r.ProcessingTimeMs, r.EnrichedAt)
	if err != nil {
		return false, fmt.Errorf("insert enrichment result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if usage != nil {
		if err := insertUsage(ctx, tx, usage); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit save enrichment: %w", err)
	}
	return true, nil
}

func insertUsage(ctx context.Context, tx pgx.Tx, u *models.UsageRecord) error {
	meta := u.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode usage metadata: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO usage_records (id, tenant_id, job_id, action, credits_consumed, tokens_used, model_used, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.TenantID, u.JobID, u.Action, u.CreditsConsumed, u.TokensUsed, u.ModelUsed, metaJSON, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ProcessedItems(ctx context.Context, jobID uuid.UUID) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT input_name, status FROM enrichment_results WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("processed items: %w", err)
	}
	defer rows.Close()

	done := make(map[string]string)
	for rows.Next() {
		var name, status string
		if err := rows.Scan(&name, &status); err != nil {
			return nil, fmt.Errorf("scan processed item: %w", err)
		}
		done[name] = status
	}
	return done, rows.Err()
}

func (s *PostgresStore) ListResults(ctx context.Context, filter ResultFilter) ([]*models.EnrichmentResult, int, error) {
	conditions := []string{"job_id = $1"}
	args := []any{filter.JobID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM enrichment_results WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	limit, offset := paginate(filter.Page, filter.Limit, 50, 500)
	query := fmt.Sprintf(`SELECT %s FROM enrichment_results WHERE %s ORDER BY enriched_at, id LIMIT $%d OFFSET $%d`,
		resultColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []*models.EnrichmentResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func (s *PostgresStore) StreamResults(ctx context.Context, jobID uuid.UUID, fn func(*models.EnrichmentResult) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM enrichment_results WHERE job_id = $1 ORDER BY enriched_at, id`, jobID)
	if err != nil {
		return fmt.Errorf("stream results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return fmt.Errorf("scan result: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// --- Usage and stats ---

func (s *PostgresStore) UsageSummary(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) (*models.UsageSummary, error) {
	var sum models.UsageSummary
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(credits_consumed), 0), COALESCE(SUM(tokens_used), 0), COUNT(*)
		 FROM usage_records WHERE tenant_id = $1 AND created_at >= $2`, tenantID, since,
	).Scan(&sum.TotalCredits, &sum.TotalTokens, &sum.TotalCalls)
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}

	limit, _ = paginate(1, limit, 100, 500)
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, job_id, action, credits_consumed, tokens_used, model_used, metadata, created_at
		 FROM usage_records WHERE tenant_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC, id LIMIT $3`, tenantID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}
	defer rows.Close()

	sum.RecentRecords = []*models.UsageRecord{}
	for rows.Next() {
		var u models.UsageRecord
		var meta []byte
		if err := rows.Scan(&u.ID, &u.TenantID, &u.JobID, &u.Action, &u.CreditsConsumed,
			&u.TokensUsed, &u.ModelUsed, &meta, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &u.Metadata); err != nil {
				return nil, fmt.Errorf("decode usage metadata: %w", err)
			}
		}
		sum.RecentRecords = append(sum.RecentRecords, &u)
	}
	return &sum, rows.Err()
}

func (s *PostgresStore) TenantStats(ctx context.Context, tenantID uuid.UUID, monthStart time.Time, recentJobs int) (*models.TenantStats, error) {
	var st models.TenantStats
	err := s.pool.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM enrichment_results WHERE tenant_id = $1 AND status = 'completed'),
		   (SELECT COUNT(*) FROM jobs WHERE tenant_id = $1 AND created_at >= $2),
		   (SELECT COALESCE(ROUND(AVG(confidence_score)::numeric, 1), 0)::float8
		      FROM enrichment_results WHERE tenant_id = $1 AND confidence_score IS NOT NULL),
		   (SELECT COALESCE(SUM(tokens_used), 0) FROM usage_records WHERE tenant_id = $1),
		   (SELECT COUNT(*) FROM jobs WHERE tenant_id = $1 AND status IN ('queued', 'running'))`,
		tenantID, monthStart,
	).Scan(&st.TotalEnrichments, &st.JobsThisMonth, &st.AvgConfidenceScore, &st.TotalTokensUsed, &st.ActiveJobs)
	if err != nil {
		return nil, fmt.Errorf("tenant stats: %w", err)
	}

	recent, _, err := s.ListJobs(ctx, JobFilter{TenantID: tenantID, Page: 1, Limit: recentJobs})
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []*models.Job{}
	}
	st.RecentJobs = recent
	return &st, nil
}

// paginate normalizes page/limit into LIMIT and OFFSET values.
func paginate(page, limit, defaultLimit, maxLimit int) (int, int) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
