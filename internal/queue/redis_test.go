package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kiranshivaraju/agentiq/internal/queue"
)

// setupRedis spins up a Redis container and returns a connected client.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newRedisBroker(client *redis.Client, consumer string) *queue.RedisBroker {
	return queue.NewRedisBroker(client, queue.RedisOptions{
		Name:        "test",
		Consumer:    consumer,
		PollTimeout: 200 * time.Millisecond,
		LeaseTTL:    time.Second,
	})
}

func TestRedisBroker_EnqueueDequeueAck(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := setupRedis(t)
	b := newRedisBroker(client, "c1")
	ctx := context.Background()
	jobID := uuid.New()

	runID, err := b.Enqueue(ctx, queue.Task{JobID: jobID})
	require.NoError(t, err)

	d, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, d.Task.RunID)
	assert.Equal(t, jobID, d.Task.JobID)
	assert.Equal(t, 1, d.Attempt)

	n, err := client.LLen(ctx, "queue:test:processing:c1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, b.Ack(ctx, d))
	n, err = client.LLen(ctx, "queue:test:processing:c1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRedisBroker_DequeueEmpty(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	b := newRedisBroker(setupRedis(t), "c1")

	_, err := b.Dequeue(context.Background())
	assert.ErrorIs(t, err, queue.ErrNoTask)
}

func TestRedisBroker_RetryIncrementsAttempt(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	b := newRedisBroker(setupRedis(t), "c1")
	ctx := context.Background()

	runID, _ := b.Enqueue(ctx, queue.Task{JobID: uuid.New()})
	d, err := b.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Retry(ctx, d, 100*time.Millisecond))

	// Not yet due.
	_, err = b.Dequeue(ctx)
	require.ErrorIs(t, err, queue.ErrNoTask)

	time.Sleep(150 * time.Millisecond)
	again, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, again.Task.RunID)
	assert.Equal(t, 2, again.Attempt)
}

func TestRedisBroker_ReleaseKeepsAttempt(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	b := newRedisBroker(setupRedis(t), "c1")
	ctx := context.Background()

	first, _ := b.Enqueue(ctx, queue.Task{JobID: uuid.New()})
	_, _ = b.Enqueue(ctx, queue.Task{JobID: uuid.New()})

	d, err := b.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, first, d.Task.RunID)
	require.NoError(t, b.Release(ctx, d))

	again, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again.Task.RunID)
	assert.Equal(t, 1, again.Attempt)
}

func TestRedisBroker_Revoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	b := newRedisBroker(setupRedis(t), "c1")
	ctx := context.Background()

	runID, _ := b.Enqueue(ctx, queue.Task{JobID: uuid.New()})
	require.NoError(t, b.Revoke(ctx, runID))

	revoked, err := b.IsRevoked(ctx, runID)
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = b.Dequeue(ctx)
	assert.ErrorIs(t, err, queue.ErrNoTask)
}

func TestRedisBroker_ReclaimsDeadConsumer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := setupRedis(t)
	dead := newRedisBroker(client, "dead")
	alive := newRedisBroker(client, "alive")
	ctx := context.Background()

	runID, _ := dead.Enqueue(ctx, queue.Task{JobID: uuid.New()})
	_, err := dead.Dequeue(ctx)
	require.NoError(t, err)

	// Let the dead consumer's lease lapse.
	time.Sleep(1200 * time.Millisecond)
	require.NoError(t, alive.ReclaimDead(ctx))

	d, err := alive.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, d.Task.RunID)
	assert.Equal(t, 1, d.Attempt)
}

func TestRedisBroker_CloseRequeuesInFlight(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := setupRedis(t)
	first := newRedisBroker(client, "first")
	ctx := context.Background()

	runID, _ := first.Enqueue(ctx, queue.Task{JobID: uuid.New()})
	_, err := first.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	d, err := newRedisBroker(client, "second").Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, d.Task.RunID)
}
