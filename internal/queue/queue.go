// Package queue dispatches job runs to worker processes with at-least-once
// delivery. Brokers are pluggable: Redis, NATS JetStream or in-process memory.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBrokerUnavailable = errors.New("queue broker unavailable")
	ErrNoTask            = errors.New("no task available")
)

// Task is one unit of work: a single run of a job's orchestration loop.
type Task struct {
	RunID      string    `json:"run_id"`
	JobID      uuid.UUID `json:"job_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Delivery is a task handed to one consumer. It stays leased to that
// consumer until acked, retried, or the consumer stops heartbeating.
type Delivery struct {
	Task Task
	// Attempt is the 1-based delivery attempt as tracked by the broker.
	Attempt int

	// handle is broker-specific: the raw payload for Redis, a message for NATS.
	handle any
}

// Broker is a durable queue of Tasks.
type Broker interface {
	// Enqueue stores task and returns its run ID. Unreachable brokers fail
	// fast with ErrBrokerUnavailable.
	Enqueue(ctx context.Context, task Task) (string, error)
	// Dequeue leases the next ready task, waiting briefly. Returns ErrNoTask
	// when none arrives.
	Dequeue(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Retry releases the lease and redelivers the task after delay as the
	// next attempt.
	Retry(ctx context.Context, d *Delivery, delay time.Duration) error
	// Release hands the task back for immediate redelivery without
	// counting an attempt. Used when a worker stops mid-run.
	Release(ctx context.Context, d *Delivery) error
	// Extend renews the consumer's lease on an in-flight delivery.
	Extend(ctx context.Context, d *Delivery) error
	// Revoke marks a run as cancelled and drops it from the ready queue
	// where the broker allows.
	Revoke(ctx context.Context, runID string) error
	IsRevoked(ctx context.Context, runID string) (bool, error)
	Close() error
}

// Handler executes dequeued tasks.
type Handler interface {
	// Handle runs the task. softDeadline is when the run should wind down
	// gracefully; ctx is cancelled at the hard limit.
	Handle(ctx context.Context, task Task, softDeadline time.Time) error
	// Abandon is called once a task will not be attempted again.
	Abandon(ctx context.Context, task Task, reason string) error
}

// prepareTask assigns the run ID and first-attempt bookkeeping.
func prepareTask(task Task) Task {
	if task.RunID == "" {
		task.RunID = uuid.NewString()
	}
	if task.Attempt <= 0 {
		task.Attempt = 1
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	return task
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrBrokerUnavailable, op, err)
}
