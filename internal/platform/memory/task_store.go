package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/andr-235/fullstack-parser-sub002/internal/store"
)

// TaskStore is a mutex-guarded map of jobs. Records past their expiry behave
// as if they were gone.
type TaskStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.CollectionJob
	now  func() time.Time
}

// NewTaskStore creates an empty TaskStore. A nil clock means time.Now.
func NewTaskStore(now func() time.Time) *TaskStore {
	if now == nil {
		now = time.Now
	}
	return &TaskStore{jobs: make(map[string]*domain.CollectionJob), now: now}
}

var _ store.TaskStore = (*TaskStore)(nil)

func (s *TaskStore) live(id string) (*domain.CollectionJob, bool) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	if job.TTL > 0 && !s.now().Before(job.ExpiresAt()) {
		return nil, false
	}
	return job, true
}

// Create implements store.TaskStore.Create.
func (s *TaskStore) Create(_ context.Context, job *domain.CollectionJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(job.ID); ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateTask, job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get implements store.TaskStore.Get.
func (s *TaskStore) Get(_ context.Context, id string) (*domain.CollectionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.live(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return job.Clone(), nil
}

// Update implements store.TaskStore.Update.
func (s *TaskStore) Update(_ context.Context, id string, patch domain.TaskPatch) (*domain.CollectionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.live(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	next := job.Clone()
	if err := next.Apply(patch, s.now()); err != nil {
		return nil, err
	}
	s.jobs[id] = next
	return next.Clone(), nil
}

// ListActive implements store.TaskStore.ListActive, oldest first.
func (s *TaskStore) ListActive(_ context.Context) ([]*domain.CollectionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.CollectionJob
	for id := range s.jobs {
		job, ok := s.live(id)
		if !ok || job.Status.IsTerminal() {
			continue
		}
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete implements store.TaskStore.Delete.
func (s *TaskStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	return nil
}

// CleanupExpired implements store.TaskStore.CleanupExpired. Expired records
// are dropped as well.
func (s *TaskStore) CleanupExpired(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	removed := 0
	for id, job := range s.jobs {
		_, alive := s.live(id)
		if !alive || (job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff)) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Ping implements store.TaskStore.Ping.
func (s *TaskStore) Ping(context.Context) error { return nil }
