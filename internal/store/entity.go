package store

import (
	"context"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
)

// EntityRepository persists resolved entities keyed uniquely by external id.
type EntityRepository interface {
	// UpsertMany inserts or refreshes entities on behalf of taskID. Calling it
	// twice with overlapping input never produces duplicate rows. Stale input
	// (older fetched_at than the stored row) and repeated ids within one call
	// are counted as skipped. An invalid row only becomes valid on strictly
	// newer data.
	UpsertMany(ctx context.Context, entities []domain.ResolvedEntity, taskID string) (domain.UpsertResult, error)

	// Exists reports whether a row with externalID is stored.
	Exists(ctx context.Context, externalID int64) (bool, error)

	// ExistsMany returns the subset of ids that are already stored.
	ExistsMany(ctx context.Context, externalIDs []int64) (map[int64]bool, error)

	// ListByTask pages through rows last touched by taskID and returns the
	// total number of matching rows.
	ListByTask(ctx context.Context, taskID string, filter domain.EntityFilter, page domain.Page) ([]domain.PersistedEntity, int, error)
}
