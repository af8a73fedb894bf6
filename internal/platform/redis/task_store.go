package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/andr-235/fullstack-parser-sub002/internal/store"
	goredis "github.com/redis/go-redis/v9"
)

// maxUpdateRetries bounds optimistic-lock retries for one Update call.
const maxUpdateRetries = 25

// DefaultTaskTTL is used when neither the job nor the store names a TTL.
const DefaultTaskTTL = 72 * time.Hour

// DefaultKeyPrefix namespaces every key written by the store.
const DefaultKeyPrefix = "collector:"

// TaskStore implements store.TaskStore on Redis.
type TaskStore struct {
	client     goredis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// Option customizes a TaskStore.
type Option func(*TaskStore)

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(s *TaskStore) { s.prefix = prefix }
}

// WithClock overrides the clock used for timestamps and cleanup cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *TaskStore) { s.now = now }
}

// NewTaskStore creates a TaskStore. defaultTTL applies to jobs that carry no
// TTL of their own; a non-positive value means DefaultTaskTTL. If logger is
// nil, slog.Default() is used.
func NewTaskStore(client goredis.UniversalClient, defaultTTL time.Duration, logger *slog.Logger, opts ...Option) *TaskStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTaskTTL
	}
	s := &TaskStore{
		client:     client,
		prefix:     DefaultKeyPrefix,
		defaultTTL: defaultTTL,
		logger:     logger.With(slog.String("component", "task_store"), slog.String("backend", "redis")),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.TaskStore = (*TaskStore)(nil)

func (s *TaskStore) taskKey(id string) string { return s.prefix + "task:" + id }
func (s *TaskStore) activeKey() string        { return s.prefix + "tasks:active" }
func (s *TaskStore) terminalKey() string      { return s.prefix + "tasks:terminal" }

func (s *TaskStore) ttl(job *domain.CollectionJob) time.Duration {
	if job.TTL > 0 {
		return job.TTL
	}
	return s.defaultTTL
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

	ok, err := s.client.SetNX(ctx, s.taskKey(job.ID), data, s.ttl(job)).Result()
	if err != nil {
		s.logger.Error("failed to create task", "task_id", job.ID, "error", err)
		return MapError("task.create", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateTask, job.ID)
	}

	_, err = s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		s.index(ctx, p, job)
		return nil
	})
	return MapError("task.create", err)
}

// index keeps the active set and terminal sorted set in step with job.
func (s *TaskStore) index(ctx context.Context, p goredis.Pipeliner, job *domain.CollectionJob) {
	if job.Status.IsTerminal() {
		p.SRem(ctx, s.activeKey(), job.ID)
		p.ZAdd(ctx, s.terminalKey(), goredis.Z{Score: float64(job.UpdatedAt.Unix()), Member: job.ID})
		return
	}
	p.SAdd(ctx, s.activeKey(), job.ID)
}

// Get implements store.TaskStore.Get.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.CollectionJob, error) {
	data, err := s.client.Get(ctx, s.taskKey(id)).Bytes()
	if err != nil {
		return nil, notFoundOr(id, MapError("task.get", err))
	}
	return decodeJob(id, data)
}

// Update implements store.TaskStore.Update. The read-modify-write runs under
// WATCH and is retried when another writer touched the key in between.
func (s *TaskStore) Update(ctx context.Context, id string, patch domain.TaskPatch) (*domain.CollectionJob, error) {
	key := s.taskKey(id)
	var updated *domain.CollectionJob

	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return notFoundOr(id, MapError("task.update", err))
		}
		job, err := decodeJob(id, data)
		if err != nil {
			return err
		}
		if err := job.Apply(patch, s.now()); err != nil {
			return err
		}
		data, err = json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to encode task %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, key, data, s.ttl(job))
			s.index(ctx, p, job)
			return nil
		})
		if err != nil {
			return MapError("task.update", err)
		}
		updated = job
		return nil
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return nil, MapError("task.update", err)
	}
	return nil, domain.NewStorageError("task.update", fmt.Errorf("too much contention on task %s", id))
}

// ListActive implements store.TaskStore.ListActive. Ids whose key expired are
// pruned from the active set on the way.
func (s *TaskStore) ListActive(ctx context.Context) ([]*domain.CollectionJob, error) {
	ids, err := s.client.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return nil, MapError("task.list_active", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, MapError("task.list_active", err)
	}

	var jobs []*domain.CollectionJob
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		job, err := decodeJob(ids[i], []byte(raw))
		if err != nil {
			s.logger.Warn("skipping corrupt task record", "task_id", ids[i], "error", err)
			continue
		}
		if job.Status.IsTerminal() {
			continue
		}
		jobs = append(jobs, job)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, s.activeKey(), stale...).Err(); err != nil {
			s.logger.Warn("failed to prune expired task ids", "count", len(stale), "error", err)
		}
	}
	return jobs, nil
}

// Delete implements store.TaskStore.Delete.
func (s *TaskStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, s.taskKey(id))
		p.SRem(ctx, s.activeKey(), id)
		p.ZRem(ctx, s.terminalKey(), id)
		return nil
	})
	return MapError("task.delete", err)
}

// CleanupExpired implements store.TaskStore.CleanupExpired.
func (s *TaskStore) CleanupExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).Unix()
	ids, err := s.client.ZRangeByScore(ctx, s.terminalKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, MapError("task.cleanup", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
		members[i] = id
	}

	var del *goredis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		del = p.Del(ctx, keys...)
		p.ZRem(ctx, s.terminalKey(), members...)
		return nil
	})
	if err != nil {
		return 0, MapError("task.cleanup", err)
	}
	return int(del.Val()), nil
}

// Ping implements store.TaskStore.Ping.
func (s *TaskStore) Ping(ctx context.Context) error {
	return MapError("task.ping", s.client.Ping(ctx).Err())
}

func decodeJob(id string, data []byte) (*domain.CollectionJob, error) {
	var job domain.CollectionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: task %s: %v", store.ErrCorruptRecord, id, err)
	}
	return &job, nil
}

func notFoundOr(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return err
}
