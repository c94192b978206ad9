package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentiq/internal/cache"
	"github.com/kiranshivaraju/agentiq/internal/store"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

// Sweeper fails jobs that stayed queued or running past the staleness
// threshold, covering runs whose worker died without reaching an exit path.
type Sweeper struct {
	store      store.Store
	cache      cache.Cache
	staleAfter time.Duration
	interval   time.Duration
	now        func() time.Time
}

// NewSweeper creates a Sweeper. cache may be nil.
func NewSweeper(st store.Store, c cache.Cache, staleAfter, interval time.Duration) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Hour
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{store: st, cache: c, staleAfter: staleAfter, interval: interval, now: time.Now}
}

// SweepOnce fails every stale job and returns their IDs. Terminal jobs are
// never touched.
func (s *Sweeper) SweepOnce(ctx context.Context) ([]uuid.UUID, error) {
	cutoff := s.now().Add(-s.staleAfter)
	refs, err := s.store.FailStaleJobs(ctx, cutoff, msgStaleJob)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(refs))
	for _, ref := range refs {
		setCachedStatus(ctx, s.cache, ref.TenantID, ref.ID, models.JobStatusFailed)
		ids = append(ids, ref.ID)
	}
	if len(ids) > 0 {
		slog.Warn("failed stale jobs", "count", len(ids), "cutoff", cutoff)
	}
	return ids, nil
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("stale job sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
