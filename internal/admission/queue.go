// Package admission provides the bounded-concurrency task scheduler
// that gates all invocations of the external fetcher. Nothing else may
// start a fetch.
package admission

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQueueFull is returned when the waiting queue is at capacity. The
// caller must not block; it reports "try again later" to the requester.
var ErrQueueFull = errors.New("admission queue full")

const (
	DefaultMaxParallel = 3
	DefaultMaxQueued   = 50
)

// Config holds queue limits.
type Config struct {
	// MaxParallel is the maximum number of concurrently running tasks.
	MaxParallel int
	// MaxQueued is the maximum number of tasks waiting for a slot.
	MaxQueued int
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxParallel: DefaultMaxParallel,
		MaxQueued:   DefaultMaxQueued,
	}
}

// Task is a unit of work submitted to the queue.
type Task struct {
	// Key labels the task for observability; the queue itself does not
	// deduplicate.
	Key string
	// Run performs the work. The queue reports the error to the handle
	// and frees the slot; it never retries.
	Run func(ctx context.Context) error
}

// Handle lets the submitter observe completion of an admitted task.
type Handle struct {
	done chan struct{}
	err  error

	// EnqueuedAt is when the task was accepted by the queue.
	EnqueuedAt time.Time
}

// Done is closed when the task has finished, successfully or not.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the task's terminal error. Only valid after Done is closed.
func (h *Handle) Err() error {
	return h.err
}

// Wait blocks until the task finishes and returns its error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Status is a non-blocking observability snapshot.
type Status struct {
	Active int
	Queued int
}

type waiter struct {
	ctx    context.Context
	task   Task
	handle *Handle
}

// Queue runs tasks with a hard cap on parallelism and a bounded FIFO
// waiting line. A task's own failure does not affect queue health; the
// slot is freed and the next waiter admitted.
type Queue struct {
	mu      sync.Mutex
	active  int
	waiting []waiter

	maxParallel int
	maxQueued   int
}

// New creates a Queue. Non-positive limits fall back to the defaults.
func New(cfg Config) *Queue {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if cfg.MaxQueued < 0 {
		cfg.MaxQueued = DefaultMaxQueued
	}
	return &Queue{
		maxParallel: cfg.MaxParallel,
		maxQueued:   cfg.MaxQueued,
	}
}

// Add admits a task. If a run slot is free the task starts immediately;
// otherwise it joins the FIFO waiting line, and if that is full Add
// fails immediately with ErrQueueFull rather than blocking.
func (q *Queue) Add(ctx context.Context, task Task) (*Handle, error) {
	h := &Handle{
		done:       make(chan struct{}),
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	if q.active < q.maxParallel {
		q.active++
		q.mu.Unlock()
		go q.run(ctx, task, h)
		return h, nil
	}

	if len(q.waiting) >= q.maxQueued {
		q.mu.Unlock()
		return nil, ErrQueueFull
	}

	q.waiting = append(q.waiting, waiter{ctx: ctx, task: task, handle: h})
	q.mu.Unlock()
	return h, nil
}

// Status returns current counts without blocking task execution.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{Active: q.active, Queued: len(q.waiting)}
}

func (q *Queue) run(ctx context.Context, task Task, h *Handle) {
	for {
		h.err = task.Run(ctx)
		close(h.done)

		q.mu.Lock()
		if len(q.waiting) == 0 {
			q.active--
			q.mu.Unlock()
			return
		}
		// The freed slot is reused by the next FIFO waiter.
		next := q.waiting[0]
		q.waiting = q.waiting[1:]
		q.mu.Unlock()

		ctx, task, h = next.ctx, next.task, next.handle
	}
}
