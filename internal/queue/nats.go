package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSOptions tunes a NATSBroker.
type NATSOptions struct {
	// Name derives the stream, subject, consumer and KV bucket names.
	Name string
	// PollTimeout bounds how long Dequeue waits for a message.
	PollTimeout time.Duration
	// LeaseTTL is the consumer AckWait: an unacked message is redelivered
	// once it passes without an Extend.
	LeaseTTL time.Duration
}

// NATSBroker is a Broker on a JetStream work-queue stream. Messages are
// fetched one at a time by a shared durable consumer with explicit acks.
// Revocations and retry counts live in KV buckets keyed by run ID, so an
// AckWait redelivery or a release does not count as an attempt.
type NATSBroker struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	revoked  jetstream.KeyValue
	attempts jetstream.KeyValue
	subject  string
	opts     NATSOptions
}

// DialNATS connects to url and provisions the stream, consumer and
// revocation bucket. The returned broker owns the connection.
func DialNATS(ctx context.Context, url string, opts NATSOptions) (*NATSBroker, error) {
	nc, err := nats.Connect(url,
		nats.Name("agentiq-"+opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, unavailable("connect", err)
	}
	b, err := NewNATSBroker(ctx, nc, opts)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

// NewNATSBroker provisions JetStream resources on an existing connection.
func NewNATSBroker(ctx context.Context, nc *nats.Conn, opts NATSOptions) (*NATSBroker, error) {
	if opts.Name == "" {
		opts.Name = "enrichment"
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 2 * time.Second
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 90 * time.Second
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, unavailable("jetstream", err)
	}

	upper := strings.ToUpper(opts.Name)
	subject := "agentiq." + opts.Name + ".tasks"
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "AGENTIQ_" + upper,
		Subjects:  []string{subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, unavailable("create stream", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       opts.Name + "-workers",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       opts.LeaseTTL,
		MaxDeliver:    -1,
		FilterSubject: subject,
	})
	if err != nil {
		return nil, unavailable("create consumer", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: "agentiq_" + opts.Name + "_revoked",
		TTL:    revokedTTL,
	})
	if err != nil {
		return nil, unavailable("create revocation bucket", err)
	}

	attempts, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: "agentiq_" + opts.Name + "_attempts",
		TTL:    revokedTTL,
	})
	if err != nil {
		return nil, unavailable("create attempts bucket", err)
	}

	return &NATSBroker{
		nc:       nc,
		js:       js,
		consumer: consumer,
		revoked:  kv,
		attempts: attempts,
		subject:  subject,
		opts:     opts,
	}, nil
}

func (b *NATSBroker) Enqueue(ctx context.Context, task Task) (string, error) {
	task = prepareTask(task)
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	if _, err := b.js.Publish(ctx, b.subject, payload); err != nil {
		return "", unavailable("enqueue", err)
	}
	return task.RunID, nil
}

func (b *NATSBroker) Dequeue(ctx context.Context) (*Delivery, error) {
	batch, err := b.consumer.Fetch(1, jetstream.FetchMaxWait(b.opts.PollTimeout))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable("fetch", err)
	}

	for msg := range batch.Messages() {
		var task Task
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("dropping undecodable task", "error", err)
			_ = msg.Term()
			return nil, ErrNoTask
		}
		return &Delivery{Task: task, Attempt: b.attempt(ctx, task), handle: msg}, nil
	}

	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return nil, unavailable("fetch", err)
	}
	return nil, ErrNoTask
}

// attempt returns the recorded attempt for a run, falling back to the
// number carried in the payload.
func (b *NATSBroker) attempt(ctx context.Context, task Task) int {
	entry, err := b.attempts.Get(ctx, task.RunID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return task.Attempt
	}
	if err != nil {
		slog.Warn("reading attempt count failed", "run_id", task.RunID, "error", err)
		return task.Attempt
	}
	n, err := strconv.Atoi(string(entry.Value()))
	if err != nil || n < task.Attempt {
		return task.Attempt
	}
	return n
}

func natsMsg(d *Delivery) (jetstream.Msg, error) {
	msg, ok := d.handle.(jetstream.Msg)
	if !ok {
		return nil, errors.New("delivery not from nats broker")
	}
	return msg, nil
}

func (b *NATSBroker) Ack(ctx context.Context, d *Delivery) error {
	msg, err := natsMsg(d)
	if err != nil {
		return err
	}
	if err := msg.DoubleAck(ctx); err != nil {
		return unavailable("ack", err)
	}
	if err := b.attempts.Delete(ctx, d.Task.RunID); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		slog.Warn("clearing attempt count failed", "run_id", d.Task.RunID, "error", err)
	}
	return nil
}

// Retry records the next attempt for the run and naks the message so
// JetStream redelivers it after delay.
func (b *NATSBroker) Retry(ctx context.Context, d *Delivery, delay time.Duration) error {
	msg, err := natsMsg(d)
	if err != nil {
		return err
	}
	if _, err := b.attempts.Put(ctx, d.Task.RunID, []byte(strconv.Itoa(d.Attempt+1))); err != nil {
		return unavailable("retry", err)
	}
	if err := msg.NakWithDelay(delay); err != nil {
		return unavailable("retry", err)
	}
	return nil
}

// Release naks the message for immediate redelivery. The attempt count is
// left as is.
func (b *NATSBroker) Release(_ context.Context, d *Delivery) error {
	msg, err := natsMsg(d)
	if err != nil {
		return err
	}
	if err := msg.Nak(); err != nil {
		return unavailable("release", err)
	}
	return nil
}

func (b *NATSBroker) Extend(_ context.Context, d *Delivery) error {
	msg, err := natsMsg(d)
	if err != nil {
		return err
	}
	if err := msg.InProgress(); err != nil {
		return unavailable("extend", err)
	}
	return nil
}

// Revoke records the run in the revocation bucket. Queued messages stay in
// the stream and are discarded by the worker when dequeued.
func (b *NATSBroker) Revoke(ctx context.Context, runID string) error {
	if _, err := b.revoked.Put(ctx, runID, []byte("1")); err != nil {
		return unavailable("revoke", err)
	}
	return nil
}

func (b *NATSBroker) IsRevoked(ctx context.Context, runID string) (bool, error) {
	_, err := b.revoked.Get(ctx, runID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("is revoked", err)
	}
	return true, nil
}

func (b *NATSBroker) Close() error {
	return b.nc.Drain()
}

var _ Broker = (*NATSBroker)(nil)
