package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func clockAt(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func entity(id int64, fetched time.Time, deactivated string) domain.ResolvedEntity {
	return domain.ResolvedEntity{ExternalID: id, ScreenName: "g", DisplayName: "G", Deactivated: deactivated, FetchedAt: fetched}
}

func TestTaskStore_Lifecycle(t *testing.T) {
	t.Parallel()
	now := t0
	s := NewTaskStore(clockAt(&now))
	ctx := context.Background()

	job := domain.NewCollectionJob("j1", domain.JobKindGroups,
		[]domain.ExternalIdentifier{domain.NumericIdentifier(1)}, 10, time.Hour, now)
	require.NoError(t, s.Create(ctx, job))
	assert.ErrorIs(t, s.Create(ctx, job), domain.ErrDuplicateTask)

	// Mutating the caller's copy does not leak into the store.
	job.Status = domain.JobStatusFailed
	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCreated, got.Status)

	now = now.Add(50 * time.Minute)
	_, err = s.Update(ctx, "j1", domain.TaskPatch{Status: domain.Ptr(domain.JobStatusQueued)})
	require.NoError(t, err)

	now = now.Add(50 * time.Minute)
	_, err = s.Get(ctx, "j1")
	require.NoError(t, err, "update refreshed the expiry")

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	now = now.Add(2 * time.Hour)
	_, err = s.Get(ctx, "j1")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	n, err := s.CleanupExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTaskStore_TerminalAndCleanup(t *testing.T) {
	t.Parallel()
	now := t0
	s := NewTaskStore(clockAt(&now))
	ctx := context.Background()

	job := domain.NewCollectionJob("j1", domain.JobKindGroups, nil, 10, 24*time.Hour, now)
	require.NoError(t, s.Create(ctx, job))
	_, err := s.Update(ctx, "j1", domain.TaskPatch{Status: domain.Ptr(domain.JobStatusCancelled)})
	require.NoError(t, err)
	_, err = s.Update(ctx, "j1", domain.TaskPatch{Status: domain.Ptr(domain.JobStatusCompleted)})
	assert.ErrorIs(t, err, domain.ErrTerminalState)

	n, err := s.CleanupExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	now = now.Add(2 * time.Hour)
	n, err = s.CleanupExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, s.Delete(ctx, "j1"))
}

func TestEntityStore_UpsertRules(t *testing.T) {
	t.Parallel()
	now := t0
	s := NewEntityStore(clockAt(&now))
	ctx := context.Background()

	res, err := s.UpsertMany(ctx, []domain.ResolvedEntity{
		entity(1, t0, ""), entity(2, t0, "deleted"), entity(1, t0, ""),
	}, "task")
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertResult{Inserted: 2, Skipped: 1}, res)

	// Replay: same data updates in place, never duplicates.
	res, err = s.UpsertMany(ctx, []domain.ResolvedEntity{entity(1, t0, ""), entity(2, t0, "deleted")}, "task")
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertResult{Updated: 2}, res)
	assert.Equal(t, 2, s.Len())

	// Stale data is skipped.
	res, err = s.UpsertMany(ctx, []domain.ResolvedEntity{entity(1, t0.Add(-time.Minute), "")}, "other")
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertResult{Skipped: 1}, res)

	// Invalid stays invalid on equal fetched_at, turns valid on newer data.
	_, err = s.UpsertMany(ctx, []domain.ResolvedEntity{entity(2, t0, "")}, "task")
	require.NoError(t, err)
	rows, total, err := s.ListByTask(ctx, "task", domain.EntityFilter{Status: domain.EntityStatusInvalid}, domain.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, int64(2), rows[0].ExternalID)

	_, err = s.UpsertMany(ctx, []domain.ResolvedEntity{entity(2, t0.Add(time.Second), "")}, "task")
	require.NoError(t, err)
	_, total, err = s.ListByTask(ctx, "task", domain.EntityFilter{Status: domain.EntityStatusInvalid}, domain.Page{Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)

	found, err := s.ExistsMany(ctx, []int64{1, 3})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{1: true}, found)
	ok, err := s.Exists(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEntityStore_ListByTaskPaging(t *testing.T) {
	t.Parallel()
	s := NewEntityStore(nil)
	ctx := context.Background()

	var in []domain.ResolvedEntity
	for i := int64(1); i <= 5; i++ {
		in = append(in, entity(i, t0, ""))
	}
	_, err := s.UpsertMany(ctx, in, "task")
	require.NoError(t, err)

	rows, total, err := s.ListByTask(ctx, "task", domain.EntityFilter{}, domain.Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[0].ExternalID)

	rows, total, err = s.ListByTask(ctx, "task", domain.EntityFilter{}, domain.Page{Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, rows)
}

func TestEntityStore_ConcurrentUpsertsNeverDuplicate(t *testing.T) {
	t.Parallel()
	s := NewEntityStore(nil)
	ctx := context.Background()
	batch := []domain.ResolvedEntity{entity(1, t0, ""), entity(2, t0, ""), entity(3, t0, "")}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var total domain.UpsertResult
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.UpsertMany(ctx, batch, "task")
			assert.NoError(t, err)
			mu.Lock()
			total.Add(res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 3, total.Inserted)
	assert.Equal(t, 27, total.Updated)
}
