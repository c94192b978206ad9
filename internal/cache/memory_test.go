package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemoryCache() (*MemoryCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache()
	c.now = clock.Now
	return c, clock
}

func TestMemoryCache_SetGet(t *testing.T) {
	c, clock := newTestMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))

	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	clock.Advance(time.Second)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	c, clock := newTestMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	clock.Advance(24 * time.Hour)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCache_Delete(t *testing.T) {
	c, _ := newTestMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "missing"))

	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCache_JobStatus(t *testing.T) {
	c, _ := newTestMemoryCache()
	ctx := context.Background()
	tenantID, jobID := uuid.New(), uuid.New()

	_, ok, err := c.GetJobStatus(ctx, tenantID, jobID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetJobStatus(ctx, tenantID, jobID, "running", time.Minute))
	status, ok, err := c.GetJobStatus(ctx, tenantID, jobID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "running", status)

	// Another tenant asking for the same job gets a miss.
	_, ok, err = c.GetJobStatus(ctx, uuid.New(), jobID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.DeleteJobStatus(ctx, tenantID, jobID))
	_, ok, err = c.GetJobStatus(ctx, tenantID, jobID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_IncrWithExpiry(t *testing.T) {
	c, clock := newTestMemoryCache()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := c.IncrWithExpiry(ctx, "ctr", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	clock.Advance(time.Minute)
	n, err := c.IncrWithExpiry(ctx, "ctr", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryCache_ConcurrentIncrements(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.IncrWithExpiry(ctx, "ctr", time.Minute)
		}()
	}
	wg.Wait()

	n, err := c.IncrWithExpiry(ctx, "ctr", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(51), n)
}

func TestMemoryCache_EvictsExpiredCounters(t *testing.T) {
	c, clock := newTestMemoryCache()
	ctx := context.Background()

	for i := 0; i < 1100; i++ {
		_, err := c.IncrWithExpiry(ctx, fmt.Sprintf("ctr:%d", i), time.Second)
		require.NoError(t, err)
	}
	clock.Advance(2 * time.Second)
	_, err := c.IncrWithExpiry(ctx, "fresh", time.Minute)
	require.NoError(t, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.entries, 1)
}
