package domain

import "time"

// EntityStatus tags a persisted entity.
type EntityStatus string

// Entity status values. The collector writes valid and invalid; duplicate is
// part of the stored enum so rows tagged by earlier tooling stay readable.
const (
	EntityStatusValid     EntityStatus = "valid"
	EntityStatusInvalid   EntityStatus = "invalid"
	EntityStatusDuplicate EntityStatus = "duplicate"
)

// Valid reports whether s is a known status.
func (s EntityStatus) Valid() bool {
	switch s {
	case EntityStatusValid, EntityStatusInvalid, EntityStatusDuplicate:
		return true
	default:
		return false
	}
}

// ResolvedEntity is the canonical record returned by the external API for one
// identifier. It only lives between the API client and the repository.
type ResolvedEntity struct {
	ExternalID   int64
	ScreenName   string
	DisplayName  string
	Closed       bool   // visibility flag: the entity is not publicly readable
	Deactivated  string // non-empty when the entity was banned or deleted
	EntityType   string
	MembersCount int
	PhotoURL     string
	Description  string
	FetchedAt    time.Time
	Identifier   ExternalIdentifier // the submitted identifier it answered
}

// Status derives the stored status for a freshly resolved entity.
func (e ResolvedEntity) Status() EntityStatus {
	if e.Deactivated != "" {
		return EntityStatusInvalid
	}
	return EntityStatusValid
}

// PersistedEntity is one row of the idempotent store, unique by ExternalID.
type PersistedEntity struct {
	ExternalID   int64        `json:"external_id"`
	ScreenName   string       `json:"screen_name"`
	DisplayName  string       `json:"display_name"`
	Closed       bool         `json:"closed"`
	EntityType   string       `json:"entity_type"`
	MembersCount int          `json:"members_count"`
	PhotoURL     string       `json:"photo_url,omitempty"`
	Description  string       `json:"description,omitempty"`
	Status       EntityStatus `json:"status"`
	TaskID       string       `json:"task_id"`
	FetchedAt    time.Time    `json:"fetched_at"`
	UploadedAt   time.Time    `json:"uploaded_at"`
	ProcessedAt  time.Time    `json:"processed_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ToPersisted maps a resolved entity onto the storage shape for taskID.
func (e ResolvedEntity) ToPersisted(taskID string, now time.Time) PersistedEntity {
	now = now.UTC()
	return PersistedEntity{
		ExternalID:   e.ExternalID,
		ScreenName:   e.ScreenName,
		DisplayName:  e.DisplayName,
		Closed:       e.Closed,
		EntityType:   e.EntityType,
		MembersCount: e.MembersCount,
		PhotoURL:     e.PhotoURL,
		Description:  e.Description,
		Status:       e.Status(),
		TaskID:       taskID,
		FetchedAt:    e.FetchedAt.UTC(),
		UploadedAt:   now,
		ProcessedAt:  now,
		UpdatedAt:    now,
	}
}

// UpsertResult counts what an UpsertMany call did.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Add accumulates other into r.
func (r *UpsertResult) Add(other UpsertResult) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Skipped += other.Skipped
}

// Persisted is the number of entities that now have a current row.
func (r UpsertResult) Persisted() int {
	return r.Inserted + r.Updated
}

// EntityFilter narrows a results query.
type EntityFilter struct {
	Status EntityStatus
}

// Page is a limit/offset pagination request.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize(defaultLimit, maxLimit int) Page {
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// MergeEntity applies the conflict rules used by every repository backend:
// stale data (older FetchedAt) is skipped, mutable fields are refreshed, and an
// invalid row only turns valid on strictly newer data. It returns the merged
// row and whether the existing row changed.
func MergeEntity(existing, incoming PersistedEntity) (PersistedEntity, bool) {
	if incoming.FetchedAt.Before(existing.FetchedAt) {
		return existing, false
	}
	merged := existing
	merged.ScreenName = incoming.ScreenName
	merged.DisplayName = incoming.DisplayName
	merged.Closed = incoming.Closed
	merged.EntityType = incoming.EntityType
	merged.MembersCount = incoming.MembersCount
	merged.PhotoURL = incoming.PhotoURL
	merged.Description = incoming.Description
	merged.TaskID = incoming.TaskID
	merged.ProcessedAt = incoming.ProcessedAt
	merged.UpdatedAt = incoming.UpdatedAt
	merged.FetchedAt = incoming.FetchedAt

	merged.Status = incoming.Status
	if existing.Status == EntityStatusInvalid && incoming.Status == EntityStatusValid &&
		!incoming.FetchedAt.After(existing.FetchedAt) {
		merged.Status = EntityStatusInvalid
	}
	return merged, true
}
