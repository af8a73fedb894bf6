package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/events"
)

// stallMonitor periodically reclaims jobs whose handler stopped reporting.
func (m *Manager) stallMonitor(q *queue) {
	defer m.wg.Done()
	ticker := time.NewTicker(q.opts.StallInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.loopCtx.Done():
			return
		case now := <-ticker.C:
			m.reclaimStalled(q, now)
		}
	}
}

func (m *Manager) reclaimStalled(q *queue, now time.Time) {
	for _, r := range q.snapshotActive() {
		silent := r.exec.silentFor(now)
		if silent < q.opts.StallTimeout {
			continue
		}
		if !r.exec.settle() {
			continue
		}
		r.exec.cancel()
		q.clearActive(r.job.ID)

		job := r.job
		job.Stalls++
		log := m.logger.With("queue", q.name, "job_id", job.ID)
		log.Warn("job stalled",
			"silent_for", silent,
			"stalls", job.Stalls,
			"max_stalled", q.opts.MaxStalled)

		stalled := events.New(events.Stalled, q.name, job.ID)
		stalled.Attempt = job.Attempt
		m.publish(context.Background(), q, stalled)

		if job.Stalls > q.opts.MaxStalled {
			m.fail(q, job, fmt.Errorf("%w: %d stalls", ErrStalled, job.Stalls))
			continue
		}

		// A stalled attempt does not count against the retry budget.
		job.Attempt--
		if err := q.tasks.Enqueue(job); err != nil {
			if errors.Is(err, ErrQueueClosed) {
				q.release(job.ID)
				continue
			}
			m.fail(q, job, err)
		}
	}
}
