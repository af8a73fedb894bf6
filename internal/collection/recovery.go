package collection

import (
	"context"
	"errors"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/andr-235/fullstack-parser-sub002/internal/queue"
)

// Recover re-enqueues every job that has not reached a terminal status, e.g.
// after a restart. Jobs already in the queue are left alone. It returns how
// many jobs were enqueued.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	jobs, err := o.tasks.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, job := range jobs {
		log := o.logger.With("task_id", job.ID, "status", job.Status)
		if job.Status == domain.JobStatusCreated {
			if _, err := o.tasks.Update(ctx, job.ID, domain.TaskPatch{Status: domain.Ptr(domain.JobStatusQueued)}); err != nil {
				log.Error("failed to mark recovered task queued", "error", err)
				continue
			}
		}
		_, err := o.queue.Enqueue(ctx, o.cfg.Queue, jobPayload{TaskID: job.ID}, queue.EnqueueOptions{JobID: job.ID})
		switch {
		case err == nil:
			recovered++
			log.Info("recovered unfinished task",
				"processed", job.Progress.Processed,
				"total", job.Progress.Total)
		case errors.Is(err, queue.ErrDuplicateJob):
		default:
			log.Error("failed to re-enqueue task", "error", err)
			return recovered, err
		}
	}
	if recovered > 0 {
		o.logger.Info("task recovery complete", "recovered", recovered)
	}
	return recovered, nil
}

// CleanupExpired removes terminal jobs last updated more than olderThan ago.
func (o *Orchestrator) CleanupExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := o.tasks.CleanupExpired(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.logger.Info("removed expired tasks", "count", n, "older_than", olderThan)
	}
	return n, nil
}

// RunJanitor calls CleanupExpired every interval until ctx ends.
func (o *Orchestrator) RunJanitor(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		o.logger.Warn("janitor disabled", "interval", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.logger.Info("janitor started", "interval", interval, "retention", retention)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("janitor stopped")
			return
		case <-ticker.C:
			if _, err := o.CleanupExpired(ctx, retention); err != nil && ctx.Err() == nil {
				o.logger.Error("janitor cleanup failed", "error", err)
			}
		}
	}
}
