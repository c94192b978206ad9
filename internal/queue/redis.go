package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const revokedTTL = 24 * time.Hour

// promoteDelayed moves due retries from the delayed set onto the ready list.
var promoteDelayed = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, payload in ipairs(due) do
  redis.call('ZREM', KEYS[1], payload)
  redis.call('LPUSH', KEYS[2], payload)
end
return #due
`)

// RedisOptions tunes a RedisBroker.
type RedisOptions struct {
	// Queue name used in key prefixes.
	Name string
	// Consumer identifies this process. Defaults to host-pid-random.
	Consumer string
	// PollTimeout bounds how long Dequeue blocks.
	PollTimeout time.Duration
	// LeaseTTL is how long a consumer may go without heartbeating before
	// its in-flight tasks are handed to other consumers.
	LeaseTTL time.Duration
	// ReclaimInterval is how often Dequeue checks for dead consumers.
	ReclaimInterval time.Duration
}

// RedisBroker is a reliable queue on Redis lists. Each consumer leases tasks
// by moving them into its own processing list; a consumer whose heartbeat
// key expires has that list pushed back onto the ready queue.
type RedisBroker struct {
	client *redis.Client
	opts   RedisOptions

	mu          sync.Mutex
	lastReclaim time.Time
}

// NewRedisBroker creates a RedisBroker on an existing client. The client is
// shared and not closed by the broker.
func NewRedisBroker(client *redis.Client, opts RedisOptions) *RedisBroker {
	if opts.Name == "" {
		opts.Name = "enrichment"
	}
	if opts.Consumer == "" {
		host, _ := os.Hostname()
		opts.Consumer = fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 2 * time.Second
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 90 * time.Second
	}
	if opts.ReclaimInterval <= 0 {
		opts.ReclaimInterval = 30 * time.Second
	}
	return &RedisBroker{client: client, opts: opts}
}

func (b *RedisBroker) readyKey() string   { return "queue:" + b.opts.Name + ":ready" }
func (b *RedisBroker) delayedKey() string { return "queue:" + b.opts.Name + ":delayed" }
func (b *RedisBroker) consumersKey() string {
	return "queue:" + b.opts.Name + ":consumers"
}
func (b *RedisBroker) processingKey(consumer string) string {
	return "queue:" + b.opts.Name + ":processing:" + consumer
}
func (b *RedisBroker) heartbeatKey(consumer string) string {
	return "queue:" + b.opts.Name + ":consumer:" + consumer
}

func revokedKey(runID string) string { return "queue:revoked:" + runID }

func (b *RedisBroker) Enqueue(ctx context.Context, task Task) (string, error) {
	task = prepareTask(task)
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	if err := b.client.LPush(ctx, b.readyKey(), payload).Err(); err != nil {
		return "", unavailable("enqueue", err)
	}
	return task.RunID, nil
}

func (b *RedisBroker) Dequeue(ctx context.Context) (*Delivery, error) {
	if err := b.heartbeat(ctx); err != nil {
		return nil, unavailable("heartbeat", err)
	}
	if err := promoteDelayed.Run(ctx, b.client,
		[]string{b.delayedKey(), b.readyKey()},
		strconv.FormatInt(time.Now().UnixMilli(), 10),
	).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("promote delayed", err)
	}
	b.maybeReclaim(ctx)

	raw, err := b.client.BLMove(ctx, b.readyKey(), b.processingKey(b.opts.Consumer), "RIGHT", "LEFT", b.opts.PollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoTask
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable("dequeue", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		slog.Error("dropping undecodable task", "payload", raw, "error", err)
		_ = b.client.LRem(ctx, b.processingKey(b.opts.Consumer), 1, raw).Err()
		return nil, ErrNoTask
	}
	return &Delivery{Task: task, Attempt: task.Attempt, handle: raw}, nil
}

func (b *RedisBroker) Ack(ctx context.Context, d *Delivery) error {
	raw, ok := d.handle.(string)
	if !ok {
		return fmt.Errorf("ack: delivery not from redis broker")
	}
	if err := b.client.LRem(ctx, b.processingKey(b.opts.Consumer), 1, raw).Err(); err != nil {
		return unavailable("ack", err)
	}
	return nil
}

func (b *RedisBroker) Retry(ctx context.Context, d *Delivery, delay time.Duration) error {
	raw, ok := d.handle.(string)
	if !ok {
		return fmt.Errorf("retry: delivery not from redis broker")
	}
	task := d.Task
	task.Attempt = d.Attempt + 1
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, b.processingKey(b.opts.Consumer), 1, raw)
	pipe.ZAdd(ctx, b.delayedKey(), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: string(payload),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("retry", err)
	}
	return nil
}

// Release moves the task from this consumer's processing list to the head
// of the ready queue with its payload, and so its attempt, unchanged.
func (b *RedisBroker) Release(ctx context.Context, d *Delivery) error {
	raw, ok := d.handle.(string)
	if !ok {
		return fmt.Errorf("release: delivery not from redis broker")
	}
	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, b.processingKey(b.opts.Consumer), 1, raw)
	pipe.RPush(ctx, b.readyKey(), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("release", err)
	}
	return nil
}

// Extend renews this consumer's lease, which covers every task it holds.
func (b *RedisBroker) Extend(ctx context.Context, _ *Delivery) error {
	if err := b.heartbeat(ctx); err != nil {
		return unavailable("extend", err)
	}
	return nil
}

func (b *RedisBroker) Revoke(ctx context.Context, runID string) error {
	if err := b.client.Set(ctx, revokedKey(runID), "1", revokedTTL).Err(); err != nil {
		return unavailable("revoke", err)
	}

	ready, err := b.client.LRange(ctx, b.readyKey(), 0, -1).Result()
	if err != nil {
		return unavailable("revoke", err)
	}
	for _, raw := range ready {
		if payloadRunID(raw) == runID {
			if err := b.client.LRem(ctx, b.readyKey(), 0, raw).Err(); err != nil {
				return unavailable("revoke", err)
			}
		}
	}

	delayed, err := b.client.ZRange(ctx, b.delayedKey(), 0, -1).Result()
	if err != nil {
		return unavailable("revoke", err)
	}
	for _, raw := range delayed {
		if payloadRunID(raw) == runID {
			if err := b.client.ZRem(ctx, b.delayedKey(), raw).Err(); err != nil {
				return unavailable("revoke", err)
			}
		}
	}
	return nil
}

func (b *RedisBroker) IsRevoked(ctx context.Context, runID string) (bool, error) {
	n, err := b.client.Exists(ctx, revokedKey(runID)).Result()
	if err != nil {
		return false, unavailable("is revoked", err)
	}
	return n > 0, nil
}

// Close deregisters the consumer and returns anything it still holds to the
// ready queue. The shared client stays open.
func (b *RedisBroker) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := b.requeue(ctx, b.opts.Consumer); err != nil {
		return unavailable("close", err)
	}
	pipe := b.client.TxPipeline()
	pipe.SRem(ctx, b.consumersKey(), b.opts.Consumer)
	pipe.Del(ctx, b.heartbeatKey(b.opts.Consumer))
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("close", err)
	}
	return nil
}

func (b *RedisBroker) heartbeat(ctx context.Context) error {
	pipe := b.client.TxPipeline()
	pipe.SAdd(ctx, b.consumersKey(), b.opts.Consumer)
	pipe.Set(ctx, b.heartbeatKey(b.opts.Consumer), time.Now().UTC().Format(time.RFC3339), b.opts.LeaseTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) maybeReclaim(ctx context.Context) {
	b.mu.Lock()
	if time.Since(b.lastReclaim) < b.opts.ReclaimInterval {
		b.mu.Unlock()
		return
	}
	b.lastReclaim = time.Now()
	b.mu.Unlock()

	if err := b.ReclaimDead(ctx); err != nil {
		slog.Warn("reclaiming dead consumers failed", "error", err)
	}
}

// ReclaimDead pushes the in-flight tasks of consumers whose heartbeat has
// expired back onto the ready queue.
func (b *RedisBroker) ReclaimDead(ctx context.Context) error {
	consumers, err := b.client.SMembers(ctx, b.consumersKey()).Result()
	if err != nil {
		return err
	}
	for _, consumer := range consumers {
		if consumer == b.opts.Consumer {
			continue
		}
		alive, err := b.client.Exists(ctx, b.heartbeatKey(consumer)).Result()
		if err != nil {
			return err
		}
		if alive > 0 {
			continue
		}
		n, err := b.requeue(ctx, consumer)
		if err != nil {
			return err
		}
		if err := b.client.SRem(ctx, b.consumersKey(), consumer).Err(); err != nil {
			return err
		}
		if n > 0 {
			slog.Warn("requeued tasks from dead consumer", "consumer", consumer, "tasks", n)
		}
	}
	return nil
}

// requeue moves a consumer's processing list back to the ready queue so the
// oldest lease is redelivered first.
func (b *RedisBroker) requeue(ctx context.Context, consumer string) (int, error) {
	n := 0
	for {
		err := b.client.LMove(ctx, b.processingKey(consumer), b.readyKey(), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func payloadRunID(raw string) string {
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return ""
	}
	return t.RunID
}

var _ Broker = (*RedisBroker)(nil)
