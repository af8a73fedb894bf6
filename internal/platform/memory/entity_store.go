package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/andr-235/fullstack-parser-sub002/internal/store"
)

// EntityStore keeps one row per external id in memory.
type EntityStore struct {
	mu   sync.RWMutex
	rows map[int64]domain.PersistedEntity
	now  func() time.Time
}

// NewEntityStore creates an empty EntityStore. A nil clock means time.Now.
func NewEntityStore(now func() time.Time) *EntityStore {
	if now == nil {
		now = time.Now
	}
	return &EntityStore{rows: make(map[int64]domain.PersistedEntity), now: now}
}

var _ store.EntityRepository = (*EntityStore)(nil)

// UpsertMany implements store.EntityRepository.UpsertMany.
func (s *EntityStore) UpsertMany(ctx context.Context, entities []domain.ResolvedEntity, taskID string) (domain.UpsertResult, error) {
	var res domain.UpsertResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	now := s.now()

	// Collapse repeats first so each id is written once, as a single statement would.
	latest := make(map[int64]domain.PersistedEntity, len(entities))
	order := make([]int64, 0, len(entities))
	for _, e := range entities {
		row := e.ToPersisted(taskID, now)
		prev, seen := latest[row.ExternalID]
		if seen {
			res.Skipped++
			if row.FetchedAt.Before(prev.FetchedAt) {
				continue
			}
		} else {
			order = append(order, row.ExternalID)
		}
		latest[row.ExternalID] = row
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range order {
		row := latest[id]
		existing, ok := s.rows[id]
		if !ok {
			s.rows[id] = row
			res.Inserted++
			continue
		}
		merged, changed := domain.MergeEntity(existing, row)
		if !changed {
			res.Skipped++
			continue
		}
		s.rows[id] = merged
		res.Updated++
	}
	return res, nil
}

// Exists implements store.EntityRepository.Exists.
func (s *EntityStore) Exists(_ context.Context, externalID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[externalID]
	return ok, nil
}

// ExistsMany implements store.EntityRepository.ExistsMany.
func (s *EntityStore) ExistsMany(_ context.Context, externalIDs []int64) (map[int64]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := make(map[int64]bool, len(externalIDs))
	for _, id := range externalIDs {
		if _, ok := s.rows[id]; ok {
			found[id] = true
		}
	}
	return found, nil
}

// ListByTask implements store.EntityRepository.ListByTask, ordered by external id.
func (s *EntityStore) ListByTask(_ context.Context, taskID string, filter domain.EntityFilter, page domain.Page) ([]domain.PersistedEntity, int, error) {
	s.mu.RLock()
	var matched []domain.PersistedEntity
	for _, row := range s.rows {
		if row.TaskID != taskID {
			continue
		}
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		matched = append(matched, row)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ExternalID < matched[j].ExternalID })
	total := len(matched)
	if page.Offset >= total {
		return []domain.PersistedEntity{}, total, nil
	}
	end := total
	if page.Limit > 0 && page.Offset+page.Limit < total {
		end = page.Offset + page.Limit
	}
	return matched[page.Offset:end], total, nil
}

// Len returns the number of stored rows.
func (s *EntityStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
