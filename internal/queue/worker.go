package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/events"
)

// worker pulls jobs from q until the manager stops.
func (m *Manager) worker(q *queue, id int) {
	defer m.wg.Done()
	log := m.logger.With("queue", q.name, "worker_id", id)
	log.Debug("worker started")

	for {
		select {
		case <-m.loopCtx.Done():
			log.Debug("worker stopping")
			return
		case job := <-q.tasks.Channel():
			if !m.waitResumed() {
				q.release(job.ID)
				return
			}
			m.process(q, job, log.With("job_id", job.ID))
		}
	}
}

// process runs one attempt of job and settles its outcome.
func (m *Manager) process(q *queue, job *Job, log *slog.Logger) {
	job.Attempt++

	ctx, cancel := context.WithCancel(m.runCtx)
	defer cancel()
	exec := &execution{cancel: cancel}
	exec.beat()

	attempt := job.clone()
	attempt.exec = exec
	attempt.progress = m.reportProgress(q)

	q.setActive(job.ID, &running{job: job, exec: exec})

	active := events.New(events.Active, q.name, job.ID)
	active.Attempt = job.Attempt
	m.publish(ctx, q, active)
	log.Debug("processing job", "attempt", job.Attempt, "max_attempts", job.MaxAttempts)

	start := time.Now()
	err := safeRun(ctx, q.handler, attempt)

	if !exec.settle() {
		// The stall monitor already reclaimed this attempt.
		log.Warn("stalled job returned after being reclaimed",
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return
	}
	q.clearActive(job.ID)

	switch {
	case err == nil:
		done := events.New(events.Completed, q.name, job.ID)
		done.Attempt = job.Attempt
		m.publish(context.WithoutCancel(ctx), q, done)
		q.release(job.ID)
		log.Info("job completed", "attempt", job.Attempt, "duration_ms", time.Since(start).Milliseconds())

	case m.loopCtx.Err() != nil && !IsPermanent(err):
		// Stopping: the job is left for recovery on the next start.
		log.Warn("job interrupted by shutdown", "attempt", job.Attempt, "error", err)
		q.release(job.ID)

	case IsPermanent(err) || job.Attempt >= job.MaxAttempts:
		log.Error("job failed", "attempt", job.Attempt, "permanent", IsPermanent(err), "error", err)
		m.fail(q, job, err)

	default:
		delay := q.opts.Backoff.Next(job.Attempt)
		wait := events.New(events.Waiting, q.name, job.ID)
		wait.Attempt = job.Attempt
		wait.Error = err.Error()
		m.publish(context.WithoutCancel(ctx), q, wait)
		log.Warn("job attempt failed, retrying",
			"attempt", job.Attempt,
			"max_attempts", job.MaxAttempts,
			"retry_in", delay,
			"error", err)
		m.retryAfter(q, job, delay, log)
	}
}

// retryAfter puts job back on q once delay has passed.
func (m *Manager) retryAfter(q *queue, job *Job, delay time.Duration, log *slog.Logger) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-m.loopCtx.Done():
			q.release(job.ID)
		case <-timer.C:
			m.requeue(q, job, log)
		}
	}()
}

func (m *Manager) requeue(q *queue, job *Job, log *slog.Logger) {
	err := q.tasks.Enqueue(job)
	switch {
	case err == nil:
	case errors.Is(err, ErrQueueClosed):
		q.release(job.ID)
	default:
		log.Error("failed to requeue job", "error", err)
		m.fail(q, job, err)
	}
}

// fail runs the failure hook and publishes the failed event.
func (m *Manager) fail(q *queue, job *Job, err error) {
	ctx := context.WithoutCancel(m.runCtx)
	if q.onFailure != nil {
		q.onFailure(ctx, job.clone(), err)
	}
	failed := events.New(events.Failed, q.name, job.ID)
	failed.Attempt = job.Attempt
	failed.Error = err.Error()
	m.publish(ctx, q, failed)
	q.release(job.ID)
}

func (m *Manager) reportProgress(q *queue) func(*Job, any) {
	return func(job *Job, data any) {
		e := events.New(events.Progress, q.name, job.ID)
		e.Attempt = job.Attempt
		e.Data = data
		m.publish(context.Background(), q, e)
	}
}

func safeRun(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ctx, job)
}
