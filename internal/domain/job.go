package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// JobStatus represents the lifecycle state of a collection job.
type JobStatus string

// Possible job status values.
const (
	JobStatusCreated    JobStatus = "created"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusCreated, JobStatusQueued, JobStatusProcessing,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobPhase is the orchestrator's position inside a processing job.
type JobPhase string

// Orchestrator phases.
const (
	PhasePending    JobPhase = "pending"
	PhaseResolving  JobPhase = "resolving"
	PhasePersisting JobPhase = "persisting"
	PhaseFinalizing JobPhase = "finalizing"
	PhaseDone       JobPhase = "done"
)

// JobKind identifies what a job collects.
type JobKind string

// JobKindGroups resolves group identifiers into persisted entities.
const JobKindGroups JobKind = "groups"

// MaxJobErrors bounds the error list kept on a single job.
const MaxJobErrors = 1000

// Progress holds the cumulative counters of a job.
type Progress struct {
	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
}

// JobError is one recovered failure recorded on a job.
type JobError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Identifier string    `json:"identifier,omitempty"`
	Line       int       `json:"line,omitempty"`
	Raw        string    `json:"raw,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	APICode    string    `json:"api_code,omitempty"`
	At         time.Time `json:"at"`
}

// NewJobError converts err into a JobError, keeping the context carried by
// ValidationError and ExternalAPIError values.
func NewJobError(err error, identifier string, at time.Time) JobError {
	je := JobError{
		Code:       ClassifyError(err),
		Message:    err.Error(),
		Identifier: identifier,
		At:         at.UTC(),
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		je.Line = vErr.Line
		je.Raw = vErr.Raw
	}

	var apiErr *ExternalAPIError
	if errors.As(err, &apiErr) {
		je.Operation = apiErr.Operation
		je.APICode = apiErr.Code
		if je.Identifier == "" {
			je.Identifier = apiErr.Target
		}
	}
	return je
}

// CollectionJob is the durable record of one bulk collection request.
type CollectionJob struct {
	ID                string               `json:"id"`
	Kind              JobKind              `json:"kind"`
	TargetIdentifiers []ExternalIdentifier `json:"target_identifiers"`
	Status            JobStatus            `json:"status"`
	Phase             JobPhase             `json:"phase"`
	Progress          Progress             `json:"progress"`
	Errors            []JobError           `json:"errors"`
	CompletedChunks   []int                `json:"completed_chunks,omitempty"`
	ChunkSize         int                  `json:"chunk_size"`
	CancelRequested   bool                 `json:"cancel_requested"`
	FailureReason     string               `json:"failure_reason,omitempty"`
	Attempts          int                  `json:"attempts"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
	StartedAt         *time.Time           `json:"started_at,omitempty"`
	CompletedAt       *time.Time           `json:"completed_at,omitempty"`
	TTL               time.Duration        `json:"ttl"`
}

// NewCollectionJob creates a job in the created state.
func NewCollectionJob(id string, kind JobKind, targets []ExternalIdentifier, chunkSize int, ttl time.Duration, now time.Time) *CollectionJob {
	now = now.UTC()
	return &CollectionJob{
		ID:                id,
		Kind:              kind,
		TargetIdentifiers: targets,
		Status:            JobStatusCreated,
		Phase:             PhasePending,
		Progress:          Progress{Total: len(targets)},
		Errors:            []JobError{},
		ChunkSize:         chunkSize,
		CreatedAt:         now,
		UpdatedAt:         now,
		TTL:               ttl,
	}
}

// Validate checks the invariants a stored job must hold.
func (j *CollectionJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: job id is empty", ErrValidation)
	}
	if !j.Status.Valid() {
		return fmt.Errorf("%w: unknown job status %q", ErrValidation, j.Status)
	}
	if j.Progress.Processed > j.Progress.Total {
		return fmt.Errorf("%w: processed %d exceeds total %d", ErrValidation, j.Progress.Processed, j.Progress.Total)
	}
	return nil
}

// IsChunkCompleted reports whether chunk idx was already recorded.
func (j *CollectionJob) IsChunkCompleted(idx int) bool {
	return slices.Contains(j.CompletedChunks, idx)
}

// ExpiresAt is the instant after which the record may be reclaimed.
func (j *CollectionJob) ExpiresAt() time.Time {
	return j.UpdatedAt.Add(j.TTL)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j *CollectionJob) Clone() *CollectionJob {
	cp := *j
	cp.TargetIdentifiers = slices.Clone(j.TargetIdentifiers)
	cp.Errors = slices.Clone(j.Errors)
	cp.CompletedChunks = slices.Clone(j.CompletedChunks)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// TaskPatch is a merge-patch for a CollectionJob. Nil fields are left alone.
type TaskPatch struct {
	Status          *JobStatus
	Phase           *JobPhase
	Progress        *Progress
	AppendErrors    []JobError
	CompletedChunks []int
	CancelRequested *bool
	FailureReason   *string
	Attempts        *int
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// Apply merges p into the job. Terminal statuses are immutable, as are the
// completion time and failure reason recorded with them. Processed
// never decreases (a stale progress patch is dropped), and processed never
// exceeds total.
func (j *CollectionJob) Apply(p TaskPatch, now time.Time) error {
	if j.Status.IsTerminal() {
		if p.Status != nil && *p.Status != j.Status {
			return fmt.Errorf("%w: %s cannot become %s", ErrTerminalState, j.Status, *p.Status)
		}
		if p.Progress != nil || p.CancelRequested != nil || len(p.CompletedChunks) > 0 ||
			p.CompletedAt != nil || p.FailureReason != nil {
			return fmt.Errorf("%w: %s", ErrTerminalState, j.Status)
		}
	}

	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown job status %q", ErrValidation, *p.Status)
	}
	var next *Progress
	if p.Progress != nil && p.Progress.Processed >= j.Progress.Processed {
		n := *p.Progress
		if n.Total < j.Progress.Total {
			n.Total = j.Progress.Total
		}
		if n.Processed > n.Total {
			return fmt.Errorf("%w: processed %d exceeds total %d", ErrValidation, n.Processed, n.Total)
		}
		next = &n
	}

	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Phase != nil {
		j.Phase = *p.Phase
	}
	if next != nil {
		j.Progress = *next
	}
	if len(p.AppendErrors) > 0 {
		j.Errors = append(j.Errors, p.AppendErrors...)
		if over := len(j.Errors) - MaxJobErrors; over > 0 {
			j.Errors = j.Errors[over:]
		}
	}
	for _, idx := range p.CompletedChunks {
		if !j.IsChunkCompleted(idx) {
			j.CompletedChunks = append(j.CompletedChunks, idx)
		}
	}
	if p.CancelRequested != nil {
		j.CancelRequested = *p.CancelRequested
	}
	if p.FailureReason != nil {
		j.FailureReason = *p.FailureReason
	}
	if p.Attempts != nil {
		j.Attempts = *p.Attempts
	}
	if p.StartedAt != nil {
		t := p.StartedAt.UTC()
		j.StartedAt = &t
	}
	if p.CompletedAt != nil {
		t := p.CompletedAt.UTC()
		j.CompletedAt = &t
	}
	j.UpdatedAt = now.UTC()
	return nil
}

// Ptr returns a pointer to v; handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
