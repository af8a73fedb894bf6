package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolvedEntity_ToPersisted(t *testing.T) {
	t.Parallel()
	now := time.Now()

	e := ResolvedEntity{ExternalID: 1, DisplayName: "Club", FetchedAt: now}
	row := e.ToPersisted("task-1", now)
	assert.Equal(t, EntityStatusValid, row.Status)
	assert.Equal(t, "task-1", row.TaskID)

	e.Deactivated = "banned"
	assert.Equal(t, EntityStatusInvalid, e.ToPersisted("task-1", now).Status)
}

func TestMergeEntity(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	existing := PersistedEntity{ExternalID: 1, DisplayName: "old", Status: EntityStatusValid, TaskID: "a", FetchedAt: t0}

	t.Run("refreshes mutable fields", func(t *testing.T) {
		t.Parallel()
		incoming := PersistedEntity{ExternalID: 1, DisplayName: "new", Closed: true, Status: EntityStatusValid, TaskID: "b", FetchedAt: t0.Add(time.Minute)}

		merged, changed := MergeEntity(existing, incoming)
		assert.True(t, changed)
		assert.Equal(t, "new", merged.DisplayName)
		assert.True(t, merged.Closed)
		assert.Equal(t, "b", merged.TaskID)
	})

	t.Run("stale data skipped", func(t *testing.T) {
		t.Parallel()
		incoming := PersistedEntity{ExternalID: 1, DisplayName: "stale", FetchedAt: t0.Add(-time.Minute)}

		merged, changed := MergeEntity(existing, incoming)
		assert.False(t, changed)
		assert.Equal(t, "old", merged.DisplayName)
	})

	t.Run("invalid needs newer data to become valid", func(t *testing.T) {
		t.Parallel()
		invalid := existing
		invalid.Status = EntityStatusInvalid

		same := PersistedEntity{ExternalID: 1, Status: EntityStatusValid, FetchedAt: t0}
		merged, _ := MergeEntity(invalid, same)
		assert.Equal(t, EntityStatusInvalid, merged.Status)

		fresh := PersistedEntity{ExternalID: 1, Status: EntityStatusValid, FetchedAt: t0.Add(time.Second)}
		merged, _ = MergeEntity(invalid, fresh)
		assert.Equal(t, EntityStatusValid, merged.Status)
	})
}

func TestPage_Normalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Page{Limit: 50}, Page{}.Normalize(50, 500))
	assert.Equal(t, Page{Limit: 500, Offset: 0}, Page{Limit: 9000, Offset: -3}.Normalize(50, 500))
	assert.Equal(t, Page{Limit: 10, Offset: 20}, Page{Limit: 10, Offset: 20}.Normalize(50, 500))
}
