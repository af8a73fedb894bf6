package store

import (
	"context"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
)

// TaskStore is the durable, TTL-bound home of collection job state.
// Every write refreshes the record's expiry so abandoned jobs reclaim
// themselves. Concurrent updates to one task are read-modify-write,
// last write wins.
type TaskStore interface {
	// Create stores a new job.
	// Returns domain.ErrDuplicateTask if the id is taken.
	Create(ctx context.Context, job *domain.CollectionJob) error

	// Get returns a copy of the job.
	// Returns domain.ErrTaskNotFound if it is unknown or expired.
	Get(ctx context.Context, id string) (*domain.CollectionJob, error)

	// Update merges patch into the stored job following
	// domain.CollectionJob.Apply and returns the merged result.
	// Returns domain.ErrTaskNotFound if the job is missing and
	// domain.ErrTerminalState if the patch would leave a terminal status.
	Update(ctx context.Context, id string, patch domain.TaskPatch) (*domain.CollectionJob, error)

	// ListActive returns every job that is not in a terminal status.
	ListActive(ctx context.Context) ([]*domain.CollectionJob, error)

	// Delete removes a job. Deleting a missing job is not an error.
	Delete(ctx context.Context, id string) error

	// CleanupExpired removes terminal jobs last updated more than olderThan
	// ago and returns how many were removed.
	CleanupExpired(ctx context.Context, olderThan time.Duration) (int, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}
