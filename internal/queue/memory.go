package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryEntry struct {
	task    Task
	readyAt time.Time
}

// MemoryBroker is the in-process Broker used when no durable backend is
// configured. Tasks do not survive a restart and are only visible to
// workers in the same process.
type MemoryBroker struct {
	mu       sync.Mutex
	ready    []memoryEntry
	delayed  []memoryEntry
	inflight map[*Delivery]memoryEntry
	revoked  map[string]bool
	closed   bool
	notify   chan struct{}

	pollTimeout time.Duration
	now         func() time.Time
}

// NewMemoryBroker creates an empty MemoryBroker. Dequeue waits up to
// pollTimeout for a task.
func NewMemoryBroker(pollTimeout time.Duration) *MemoryBroker {
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	return &MemoryBroker{
		inflight:    make(map[*Delivery]memoryEntry),
		revoked:     make(map[string]bool),
		notify:      make(chan struct{}, 1),
		pollTimeout: pollTimeout,
		now:         time.Now,
	}
}

func (b *MemoryBroker) Enqueue(_ context.Context, task Task) (string, error) {
	task = prepareTask(task)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", unavailable("enqueue", errors.New("broker closed"))
	}
	b.ready = append(b.ready, memoryEntry{task: task})
	b.signal()
	return task.RunID, nil
}

func (b *MemoryBroker) Dequeue(ctx context.Context) (*Delivery, error) {
	deadline := time.NewTimer(b.pollTimeout)
	defer deadline.Stop()

	for {
		d, wait, err := b.tryDequeue()
		if d != nil || err != nil {
			return d, err
		}

		if err := b.wait(ctx, deadline.C, wait); err != nil {
			return nil, err
		}
	}
}

// wait blocks until a task may be ready, the poll deadline passes or ctx ends.
func (b *MemoryBroker) wait(ctx context.Context, deadline <-chan time.Time, untilDue time.Duration) error {
	var due <-chan time.Time
	if untilDue > 0 {
		t := time.NewTimer(untilDue)
		defer t.Stop()
		due = t.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline:
		return ErrNoTask
	case <-b.notify:
	case <-due:
	}
	return nil
}

// tryDequeue promotes due retries and pops the oldest ready task. When none
// is ready it returns how long until the next retry falls due.
func (b *MemoryBroker) tryDequeue() (*Delivery, time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, 0, unavailable("dequeue", errors.New("broker closed"))
	}

	now := b.now()
	var wait time.Duration
	remaining := b.delayed[:0]
	for _, e := range b.delayed {
		if !now.Before(e.readyAt) {
			b.ready = append(b.ready, e)
			continue
		}
		if w := e.readyAt.Sub(now); wait == 0 || w < wait {
			wait = w
		}
		remaining = append(remaining, e)
	}
	b.delayed = remaining

	if len(b.ready) == 0 {
		return nil, wait, nil
	}
	e := b.ready[0]
	b.ready = b.ready[1:]
	d := &Delivery{Task: e.task, Attempt: e.task.Attempt}
	b.inflight[d] = e
	return d, 0, nil
}

func (b *MemoryBroker) Ack(_ context.Context, d *Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight, d)
	return nil
}

func (b *MemoryBroker) Retry(_ context.Context, d *Delivery, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight, d)

	task := d.Task
	task.Attempt = d.Attempt + 1
	b.delayed = append(b.delayed, memoryEntry{task: task, readyAt: b.now().Add(delay)})
	b.signal()
	return nil
}

func (b *MemoryBroker) Release(_ context.Context, d *Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight, d)

	task := d.Task
	task.Attempt = d.Attempt
	b.ready = append([]memoryEntry{{task: task}}, b.ready...)
	b.signal()
	return nil
}

func (b *MemoryBroker) Extend(_ context.Context, _ *Delivery) error { return nil }

func (b *MemoryBroker) Revoke(_ context.Context, runID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[runID] = true

	keep := b.ready[:0]
	for _, e := range b.ready {
		if e.task.RunID != runID {
			keep = append(keep, e)
		}
	}
	b.ready = keep

	keepDelayed := b.delayed[:0]
	for _, e := range b.delayed {
		if e.task.RunID != runID {
			keepDelayed = append(keepDelayed, e)
		}
	}
	b.delayed = keepDelayed
	return nil
}

func (b *MemoryBroker) IsRevoked(_ context.Context, runID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revoked[runID], nil
}

// Close stops accepting work. In-flight deliveries are dropped.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.signal()
	return nil
}

// Len reports ready plus delayed tasks.
func (b *MemoryBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ready) + len(b.delayed)
}

func (b *MemoryBroker) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

var _ Broker = (*MemoryBroker)(nil)
