package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/andr-235/fullstack-parser-sub002/internal/store"
)

// DefaultTaskTTL applies to jobs that carry no TTL of their own.
const DefaultTaskTTL = 72 * time.Hour

// terminalStatuses is the SQL list used to filter active and finished jobs.
const terminalStatuses = `('completed', 'failed', 'cancelled')`

// TaskStore implements store.TaskStore on the collection_tasks table. The
// job is stored whole as JSONB; status and timestamps are mirrored into
// columns for filtering. Updates lock the row, so concurrent patches to one
// job are applied one after another.
type TaskStore struct {
	db         *sql.DB
	defaultTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// TaskStoreOption customizes a TaskStore.
type TaskStoreOption func(*TaskStore)

// WithTaskClock overrides the clock used for timestamps and expiry.
func WithTaskClock(now func() time.Time) TaskStoreOption {
	return func(s *TaskStore) { s.now = now }
}

// WithDefaultTTL sets the expiry used for jobs without a TTL. Non-positive
// values are ignored.
func WithDefaultTTL(ttl time.Duration) TaskStoreOption {
	return func(s *TaskStore) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// NewTaskStore creates a TaskStore. If logger is nil, slog.Default() is used.
func NewTaskStore(db *sql.DB, logger *slog.Logger, opts ...TaskStoreOption) *TaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &TaskStore{
		db:         db,
		defaultTTL: DefaultTaskTTL,
		logger:     logger.With(slog.String("component", "task_store"), slog.String("backend", "postgres")),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.TaskStore = (*TaskStore)(nil)

func (s *TaskStore) expiresAt(job *domain.CollectionJob) time.Time {
	if job.TTL > 0 {
		return job.ExpiresAt()
	}
	return job.UpdatedAt.Add(s.defaultTTL)
}

// Create implements store.TaskStore.Create.
func (s *TaskStore) Create(ctx context.Context, job *domain.CollectionJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", job.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collection_tasks (id, kind, status, data, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, string(job.Kind), string(job.Status), data,
		job.CreatedAt, job.UpdatedAt, s.expiresAt(job),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateTask, job.ID)
		}
		s.logger.Error("failed to create task", "task_id", job.ID, "error", err)
		return domain.NewStorageError("task.create", MapError(err))
	}
	return nil
}

// Get implements store.TaskStore.Get.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.CollectionJob, error) {
	job, err := s.get(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Update implements store.TaskStore.Update.
func (s *TaskStore) Update(ctx context.Context, id string, patch domain.TaskPatch) (*domain.CollectionJob, error) {
	var updated *domain.CollectionJob
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		job, err := s.get(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := job.Apply(patch, s.now()); err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to encode task %s: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE collection_tasks
			SET status = $1, data = $2, updated_at = $3, expires_at = $4
			WHERE id = $5`,
			string(job.Status), data, job.UpdatedAt, s.expiresAt(job), id,
		)
		if err != nil {
			return domain.NewStorageError("task.update", MapError(err))
		}
		if err := CheckRowsAffected(res, "task"); err != nil {
			return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, domain.NewStorageError("task.update", err)
	}
	return updated, nil
}

func (s *TaskStore) get(ctx context.Context, db store.DBTX, id string, forUpdate bool) (*domain.CollectionJob, error) {
	query := `SELECT data FROM collection_tasks WHERE id = $1 AND expires_at > $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var data []byte
	err := db.QueryRowContext(ctx, query, id, s.now().UTC()).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
		}
		return nil, domain.NewStorageError("task.get", MapError(err))
	}
	return decodeJob(id, data)
}

// ListActive implements store.TaskStore.ListActive.
func (s *TaskStore) ListActive(ctx context.Context) ([]*domain.CollectionJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data FROM collection_tasks
		WHERE status NOT IN `+terminalStatuses+` AND expires_at > $1
		ORDER BY created_at ASC`,
		s.now().UTC(),
	)
	if err != nil {
		return nil, domain.NewStorageError("task.list_active", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.CollectionJob
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, domain.NewStorageError("task.list_active", err)
		}
		job, err := decodeJob(id, data)
		if err != nil {
			s.logger.Warn("skipping corrupt task record", "task_id", id, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("task.list_active", err)
	}
	return jobs, nil
}

// Delete implements store.TaskStore.Delete.
func (s *TaskStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM collection_tasks WHERE id = $1`, id); err != nil {
		return domain.NewStorageError("task.delete", MapError(err))
	}
	return nil
}

// CleanupExpired implements store.TaskStore.CleanupExpired. Rows past their
// expiry are removed too, since Postgres has no native TTL.
func (s *TaskStore) CleanupExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM collection_tasks
		WHERE (status IN `+terminalStatuses+` AND updated_at < $1) OR expires_at <= $2`,
		now.Add(-olderThan), now,
	)
	if err != nil {
		return 0, domain.NewStorageError("task.cleanup", MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.NewStorageError("task.cleanup", err)
	}
	return int(n), nil
}

// Ping implements store.TaskStore.Ping.
func (s *TaskStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.NewStorageError("task.ping", err)
	}
	return nil
}

func decodeJob(id string, data []byte) (*domain.CollectionJob, error) {
	var job domain.CollectionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: task %s: %v", store.ErrCorruptRecord, id, err)
	}
	return &job, nil
}
