package queue

import (
	"fmt"
	"log/slog"
	"sync"
)

// TaskQueue is a bounded FIFO buffer of jobs waiting for a worker.
type TaskQueue struct {
	mu     sync.RWMutex
	jobs   chan *Job
	logger *slog.Logger
	closed bool
}

// NewTaskQueue creates a new task queue with the specified buffer size.
func NewTaskQueue(size int, logger *slog.Logger) *TaskQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskQueue{
		jobs:   make(chan *Job, size),
		logger: logger,
	}
}

// Enqueue adds a job without blocking.
// Returns ErrQueueClosed after Close and ErrQueueFull when the buffer is full.
func (q *TaskQueue) Enqueue(job *Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		q.logger.Debug("job enqueued",
			"job_id", job.ID,
			"queue_len", len(q.jobs),
			"queue_cap", cap(q.jobs))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.jobs))
	}
}

// Close stops accepting jobs. Buffered jobs stay readable.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.logger.Info("task queue closed")
	}
}

// Channel returns the receive side of the buffer.
func (q *TaskQueue) Channel() <-chan *Job {
	return q.jobs
}

// Len returns the number of buffered jobs.
func (q *TaskQueue) Len() int {
	return len(q.jobs)
}
