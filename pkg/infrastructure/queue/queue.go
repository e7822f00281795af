// Package queue runs background tasks on an in-process worker pool.
// Delivery is at-least-once within the process lifetime; handlers recompute
// from persistent state, so replays are harmless.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	shared "github.com/runbeat/server/pkg"
	"github.com/runbeat/server/pkg/infrastructure/metrics"
)

// ErrClosed is returned when enqueueing on a closed queue.
var ErrClosed = errors.New("queue is closed")

// Handler processes one task payload.
type Handler func(ctx context.Context, payload []byte) error

// Memory is a FIFO in-memory task queue with named handlers.
type Memory struct {
	mu       sync.Mutex
	tasks    []shared.Task
	signal   chan struct{}
	closed   bool
	closedMu sync.RWMutex

	handlers map[string]Handler
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		signal:   make(chan struct{}, 1),
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "queue"),
	}
}

// Register binds a handler to a task name. Must be called before Start.
func (q *Memory) Register(name string, h Handler) {
	q.handlers[name] = h
}

// Enqueue implements shared.TaskQueue.
func (q *Memory) Enqueue(ctx context.Context, task shared.Task) error {
	q.closedMu.RLock()
	if q.closed {
		q.closedMu.RUnlock()
		return ErrClosed
	}
	q.closedMu.RUnlock()

	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	depth := len(q.tasks)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))

	// Signal that a task is available
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return nil
}

// dequeue blocks until a task is available, the queue closes, or ctx ends.
func (q *Memory) dequeue(ctx context.Context) (shared.Task, error) {
	for {
		q.closedMu.RLock()
		if q.closed {
			q.closedMu.RUnlock()
			return shared.Task{}, ErrClosed
		}
		q.closedMu.RUnlock()

		q.mu.Lock()
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			depth := len(q.tasks)
			q.mu.Unlock()
			metrics.QueueDepth.Set(float64(depth))
			return task, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return shared.Task{}, ctx.Err()
		case <-q.signal:
			// Task may be available, loop again
		}
	}
}

// Len returns the number of waiting tasks.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Start launches the worker pool. Workers exit when ctx is cancelled or
// the queue is closed.
func (q *Memory) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func(id int) {
			defer q.wg.Done()
			q.worker(ctx, id)
		}(i)
	}
	q.logger.Info("Task workers started", "workers", workers)
}

func (q *Memory) worker(ctx context.Context, id int) {
	for {
		task, err := q.dequeue(ctx)
		if err != nil {
			return
		}

		handler, ok := q.handlers[task.Name]
		if !ok {
			q.logger.Warn("No handler registered for task", "task", task.Name)
			metrics.TasksTotal.WithLabelValues(task.Name, "dropped").Inc()
			continue
		}

		start := time.Now()
		// Handlers run on the background context: a cancelled request must
		// not abort post-commit work already enqueued.
		if err := handler(context.WithoutCancel(ctx), task.Payload); err != nil {
			q.logger.Error("Task failed", "task", task.Name, "worker", id, "error", err)
			metrics.TasksTotal.WithLabelValues(task.Name, "error").Inc()
		} else {
			metrics.TasksTotal.WithLabelValues(task.Name, "ok").Inc()
		}
		metrics.TaskDuration.WithLabelValues(task.Name).Observe(time.Since(start).Seconds())
	}
}

// Close stops accepting tasks and wakes blocked workers.
func (q *Memory) Close() error {
	q.closedMu.Lock()
	defer q.closedMu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal)
	return nil
}

// Wait blocks until every worker has exited.
func (q *Memory) Wait() {
	q.wg.Wait()
}
