package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is the in-process Cache used when no Redis URL is configured.
// Values are lost on restart and are not shared between processes.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Ping(_ context.Context) error { return nil }

func (c *MemoryCache) Close() error { return nil }

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) SetJobStatus(ctx context.Context, tenantID, jobID uuid.UUID, status string, ttl time.Duration) error {
	return c.Set(ctx, JobStatusKey(tenantID, jobID), []byte(status), ttl)
}

func (c *MemoryCache) GetJobStatus(ctx context.Context, tenantID, jobID uuid.UUID) (string, bool, error) {
	val, ok, err := c.Get(ctx, JobStatusKey(tenantID, jobID))
	if err != nil || !ok {
		return "", false, err
	}
	return string(val), true, nil
}

func (c *MemoryCache) DeleteJobStatus(ctx context.Context, tenantID, jobID uuid.UUID) error {
	return c.Delete(ctx, JobStatusKey(tenantID, jobID))
}

// IncrWithExpiry mirrors the Redis INCR + EXPIRE pipeline: the expiry is reset
// on every increment.
func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	if e, ok := c.getLocked(key); ok {
		n, _ = strconv.ParseInt(string(e.value), 10, 64)
	}
	n++
	c.setLocked(key, []byte(strconv.FormatInt(n, 10)), expiry)
	c.evictExpiredLocked()
	return n, nil
}

func (c *MemoryCache) setLocked(key string, value []byte, ttl time.Duration) {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
}

func (c *MemoryCache) getLocked(key string) (memoryEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// evictExpiredLocked bounds memory for high-cardinality counter keys.
func (c *MemoryCache) evictExpiredLocked() {
	if len(c.entries) < 1024 {
		return
	}
	now := c.now()
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

var _ Cache = (*MemoryCache)(nil)
var _ Cache = (*RedisCache)(nil)
