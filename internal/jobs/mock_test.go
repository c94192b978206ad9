package jobs

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentiq/internal/agent"
	"github.com/kiranshivaraju/agentiq/internal/queue"
	"github.com/kiranshivaraju/agentiq/internal/store"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

// --- Mock Store ---

// memStore keeps jobs and results in maps and applies the same guards as
// the Postgres store: conditional transitions, the progress ceiling and
// (job, input name) uniqueness.
type memStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*models.Job
	results []*models.EnrichmentResult
	usage   []*models.UsageRecord

	createErr   error
	saveErr     error
	getErr      error
	incrCalls   []store.ProgressDelta
	staleCutoff time.Time
	usageSince  time.Time
	statsSince  time.Time
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (m *memStore) Ping(_ context.Context) error { return nil }
func (m *memStore) GetDefaultTenant(_ context.Context) (*models.Tenant, error) {
	return nil, store.ErrNotFound
}
func (m *memStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (m *memStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (m *memStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }

func (m *memStore) CreateJob(_ context.Context, job *models.Job, maxActive int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if maxActive > 0 {
		active := 0
		for _, j := range m.jobs {
			if j.TenantID == job.TenantID && !j.IsTerminal() {
				active++
			}
		}
		if active >= maxActive {
			return store.ErrLimitExceeded
		}
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) put(job *models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
}

func (m *memStore) job(id uuid.UUID) *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

func (m *memStore) GetJob(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) GetJobByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) GetJobStatus(_ context.Context, id uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return j.Status, nil
}

func (m *memStore) ListJobs(_ context.Context, f store.JobFilter) ([]*models.Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.jobs {
		if j.TenantID == f.TenantID && (f.Status == "" || j.Status == f.Status) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *memStore) SetJobRunID(_ context.Context, id uuid.UUID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.RunID = &runID
	return nil
}

func (m *memStore) StartJob(_ context.Context, id uuid.UUID, runID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.IsTerminal() {
		return false, nil
	}
	j.Status = models.JobStatusRunning
	j.RunID = &runID
	if j.StartedAt == nil {
		now := time.Now()
		j.StartedAt = &now
	}
	return true, nil
}

func (m *memStore) IncrementJobProgress(_ context.Context, id uuid.UUID, d store.ProgressDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incrCalls = append(m.incrCalls, d)
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.CompletedItems+j.FailedItems+d.Completed+d.Failed > j.TotalItems {
		return store.ErrConflict
	}
	j.CompletedItems += d.Completed
	j.FailedItems += d.Failed
	j.CreditsUsed += d.Credits
	if j.TotalItems > 0 {
		j.ProgressPct = float64(j.CompletedItems+j.FailedItems) / float64(j.TotalItems) * 100
	}
	return nil
}

func (m *memStore) ReconcileJobProgress(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	completed, failed, credits := 0, 0, 0
	for _, r := range m.results {
		if r.JobID != nil && *r.JobID == id {
			if r.Status == models.ResultStatusCompleted {
				completed++
			} else {
				failed++
			}
		}
	}
	for _, u := range m.usage {
		if u.JobID != nil && *u.JobID == id {
			credits += u.CreditsConsumed
		}
	}
	j.CompletedItems, j.FailedItems, j.CreditsUsed = completed, failed, credits
	if j.TotalItems > 0 {
		j.ProgressPct = float64(completed+failed) / float64(j.TotalItems) * 100
	}
	return nil
}

func (m *memStore) FinishJob(_ context.Context, id uuid.UUID, status string, from []string, opts ...store.JobUpdateOption) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || !slices.Contains(from, j.Status) {
		return false, nil
	}
	j.Status = status
	now := time.Now()
	j.CompletedAt = &now
	if status == models.JobStatusCompleted {
		j.ProgressPct = 100
	}
	if msg := store.NewJobUpdate(opts...).ErrorMessage; msg != nil {
		j.ErrorMessage = msg
	}
	return true, nil
}

func (m *memStore) FailStaleJobs(_ context.Context, cutoff time.Time, message string) ([]store.JobRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleCutoff = cutoff
	var refs []store.JobRef
	for _, j := range m.jobs {
		if j.IsTerminal() {
			continue
		}
		started := j.StartedAt != nil && j.StartedAt.Before(cutoff)
		neverStarted := j.StartedAt == nil && j.CreatedAt.Before(cutoff)
		if started || neverStarted {
			j.Status = models.JobStatusFailed
			msg := message
			j.ErrorMessage = &msg
			refs = append(refs, store.JobRef{ID: j.ID, TenantID: j.TenantID})
		}
	}
	return refs, nil
}

func (m *memStore) DeleteJob(_ context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.TenantID != tenantID || !j.IsTerminal() {
		return store.ErrConflict
	}
	delete(m.jobs, id)
	m.results = slices.DeleteFunc(m.results, func(r *models.EnrichmentResult) bool {
		return r.JobID != nil && *r.JobID == id
	})
	return nil
}

func (m *memStore) JobHealth(_ context.Context, staleCutoff time.Time) (*models.JobHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleCutoff = staleCutoff
	var h models.JobHealth
	for _, j := range m.jobs {
		switch j.Status {
		case models.JobStatusQueued:
			h.Queued++
		case models.JobStatusRunning:
			h.Running++
		case models.JobStatusFailed:
			h.Failed24h++
		case models.JobStatusCompleted:
			h.Completed24h++
		}
	}
	return &h, nil
}

func (m *memStore) SaveEnrichment(_ context.Context, r *models.EnrichmentResult, u *models.UsageRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return false, m.saveErr
	}
	if r.JobID != nil {
		for _, existing := range m.results {
			if existing.JobID != nil && *existing.JobID == *r.JobID && existing.InputName == r.InputName {
				return false, nil
			}
		}
	}
	m.results = append(m.results, r)
	if u != nil {
		m.usage = append(m.usage, u)
	}
	return true, nil
}

func (m *memStore) ProcessedItems(_ context.Context, jobID uuid.UUID) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	done := make(map[string]string)
	for _, r := range m.results {
		if r.JobID != nil && *r.JobID == jobID {
			done[r.InputName] = r.Status
		}
	}
	return done, nil
}

func (m *memStore) ListResults(_ context.Context, f store.ResultFilter) ([]*models.EnrichmentResult, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.EnrichmentResult
	for _, r := range m.results {
		if r.JobID != nil && *r.JobID == f.JobID && (f.Status == "" || r.Status == f.Status) {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (m *memStore) StreamResults(_ context.Context, jobID uuid.UUID, fn func(*models.EnrichmentResult) error) error {
	m.mu.Lock()
	var rows []*models.EnrichmentResult
	for _, r := range m.results {
		if r.JobID != nil && *r.JobID == jobID {
			rows = append(rows, r)
		}
	}
	m.mu.Unlock()
	for _, r := range rows {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) UsageSummary(_ context.Context, tenantID uuid.UUID, since time.Time, limit int) (*models.UsageSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usageSince = since
	sum := &models.UsageSummary{RecentRecords: []*models.UsageRecord{}}
	for i := len(m.usage) - 1; i >= 0; i-- {
		u := m.usage[i]
		if u.TenantID != tenantID || u.CreatedAt.Before(since) {
			continue
		}
		sum.TotalCredits += int64(u.CreditsConsumed)
		sum.TotalTokens += int64(u.TokensUsed)
		sum.TotalCalls++
		if len(sum.RecentRecords) < limit {
			sum.RecentRecords = append(sum.RecentRecords, u)
		}
	}
	return sum, nil
}

func (m *memStore) TenantStats(_ context.Context, tenantID uuid.UUID, since time.Time, recentJobs int) (*models.TenantStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsSince = since
	st := &models.TenantStats{RecentJobs: []*models.Job{}}
	var scoreSum, scored int
	for _, r := range m.results {
		if r.TenantID != tenantID {
			continue
		}
		if r.Status == models.ResultStatusCompleted {
			st.TotalEnrichments++
		}
		if r.ConfidenceScore != nil {
			scoreSum += *r.ConfidenceScore
			scored++
		}
	}
	if scored > 0 {
		st.AvgConfidenceScore = float64(scoreSum) / float64(scored)
	}
	for _, u := range m.usage {
		if u.TenantID == tenantID {
			st.TotalTokensUsed += int64(u.TokensUsed)
		}
	}
	for _, j := range m.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if !j.CreatedAt.Before(since) {
			st.JobsThisMonth++
		}
		if !j.IsTerminal() {
			st.ActiveJobs++
		}
		if len(st.RecentJobs) < recentJobs {
			st.RecentJobs = append(st.RecentJobs, j)
		}
	}
	return st, nil
}

func (m *memStore) Results() []*models.EnrichmentResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.EnrichmentResult(nil), m.results...)
}

func (m *memStore) Usage() []*models.UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.UsageRecord(nil), m.usage...)
}

var _ store.Store = (*memStore)(nil)

// --- Mock Enricher ---

// fakeEnricher stores a result through the store the way the agent does.
// errs makes an item return an error; failed makes it store a failed result.
type fakeEnricher struct {
	mu     sync.Mutex
	store  *memStore
	errs   map[string]error
	failed map[string]bool
	calls  []string
	inputs []agent.Input
	onCall func(name string)

	// deadline is the context deadline seen by the most recent call.
	deadline time.Time
}

func newFakeEnricher(st *memStore) *fakeEnricher {
	return &fakeEnricher{store: st, errs: map[string]error{}, failed: map[string]bool{}}
}

func (f *fakeEnricher) Model() string { return "fake-model" }

func (f *fakeEnricher) Enrich(ctx context.Context, in agent.Input) (*agent.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in.Name)
	f.inputs = append(f.inputs, in)
	f.deadline, _ = ctx.Deadline()
	err := f.errs[in.Name]
	failed := f.failed[in.Name]
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(in.Name)
	}
	if err != nil {
		return nil, err
	}

	stats := agent.RunStats{Model: "fake-model", Tokens: 100, ToolCalls: 2, EnrichedAt: time.Now().UTC()}
	var result *models.EnrichmentResult
	if failed {
		result = agent.FailedResult(in, stats, "Could not parse agent output. Preview: ")
	} else {
		result = agent.BuildResult(in, map[string]any{"name": in.Name, "confidence_score": 8.0}, stats)
	}
	created, serr := f.store.SaveEnrichment(ctx, result, agent.UsageFor(result, stats))
	if serr != nil {
		return nil, serr
	}
	return &agent.Outcome{Result: result, Created: created}, nil
}

func (f *fakeEnricher) Inputs() []agent.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Input(nil), f.inputs...)
}

func (f *fakeEnricher) Deadline() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deadline
}

func (f *fakeEnricher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// --- Mock Scheduler ---

type fakeScheduler struct {
	mu         sync.Mutex
	enqueued   []uuid.UUID
	revoked    map[string]bool
	enqueueErr error
	revokeErr  error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{revoked: map[string]bool{}}
}

func (f *fakeScheduler) Enqueue(_ context.Context, task queue.Task) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	f.enqueued = append(f.enqueued, task.JobID)
	return "run-" + task.JobID.String()[:8], nil
}

func (f *fakeScheduler) Revoke(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revokeErr != nil {
		return f.revokeErr
	}
	f.revoked[runID] = true
	return nil
}

func (f *fakeScheduler) IsRevoked(_ context.Context, runID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[runID], nil
}

var errBoom = errors.New("boom")
