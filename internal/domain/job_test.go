package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(total int) *CollectionJob {
	targets := make([]ExternalIdentifier, total)
	for i := range targets {
		targets[i] = NumericIdentifier(int64(i + 1))
	}
	return NewCollectionJob("job-1", JobKindGroups, targets, 100, time.Hour, time.Now())
}

func TestNewCollectionJob(t *testing.T) {
	t.Parallel()

	job := newTestJob(3)

	if job.Status != JobStatusCreated {
		t.Errorf("Expected status %s, got %s", JobStatusCreated, job.Status)
	}
	if job.Phase != PhasePending {
		t.Errorf("Expected phase %s, got %s", PhasePending, job.Phase)
	}
	if job.Progress.Total != 3 {
		t.Errorf("Expected total 3, got %d", job.Progress.Total)
	}
	if job.Errors == nil {
		t.Error("Expected non-nil error list")
	}
	if err := job.Validate(); err != nil {
		t.Errorf("Expected valid job, got %v", err)
	}
}

func TestCollectionJob_Apply(t *testing.T) {
	t.Parallel()
	now := time.Now()

	t.Run("progress never decreases", func(t *testing.T) {
		t.Parallel()
		job := newTestJob(10)

		require.NoError(t, job.Apply(TaskPatch{Progress: &Progress{Total: 10, Processed: 6, Succeeded: 6}}, now))
		require.NoError(t, job.Apply(TaskPatch{Progress: &Progress{Total: 10, Processed: 4, Succeeded: 4}}, now))

		assert.Equal(t, 6, job.Progress.Processed)
		assert.Equal(t, 6, job.Progress.Succeeded)
	})

	t.Run("processed cannot exceed total", func(t *testing.T) {
		t.Parallel()
		job := newTestJob(2)

		err := job.Apply(TaskPatch{Progress: &Progress{Total: 2, Processed: 3}}, now)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, 0, job.Progress.Processed)
	})

	t.Run("total is never shrunk by a patch", func(t *testing.T) {
		t.Parallel()
		job := newTestJob(5)

		require.NoError(t, job.Apply(TaskPatch{Progress: &Progress{Processed: 1}}, now))
		assert.Equal(t, 5, job.Progress.Total)
	})

	t.Run("terminal status is immutable", func(t *testing.T) {
		t.Parallel()
		job := newTestJob(1)
		require.NoError(t, job.Apply(TaskPatch{Status: Ptr(JobStatusCompleted)}, now))

		err := job.Apply(TaskPatch{Status: Ptr(JobStatusProcessing)}, now)
		assert.ErrorIs(t, err, ErrTerminalState)
		assert.Equal(t, JobStatusCompleted, job.Status)

		err = job.Apply(TaskPatch{CancelRequested: Ptr(true)}, now)
		assert.ErrorIs(t, err, ErrTerminalState)

		// Re-asserting the same terminal status is harmless.
		assert.NoError(t, job.Apply(TaskPatch{Status: Ptr(JobStatusCompleted)}, now))
	})

	t.Run("terminal job keeps completed_at and failure reason", func(t *testing.T) {
		t.Parallel()
		job := newTestJob(1)
		done := now.Add(-time.Minute)
		require.NoError(t, job.Apply(TaskPatch{
			Status:        Ptr(JobStatusFailed),
			FailureReason: Ptr("first"),
			CompletedAt:   &done,
		}, now))

		later := now.Add(time.Hour)
		err := job.Apply(TaskPatch{Status: Ptr(JobStatusFailed), CompletedAt: &later}, now)
		assert.ErrorIs(t, err, ErrTerminalState)

		err = job.Apply(TaskPatch{Status: Ptr(JobStatusFailed), FailureReason: Ptr("second")}, now)
		assert.ErrorIs(t, err, ErrTerminalState)

		assert.Equal(t, "first", job.FailureReason)
		require.NotNil(t, job.CompletedAt)
		assert.True(t, job.CompletedAt.Equal(done))
	})

	t.Run("completed chunks are unioned", func(t *testing.T) {
		t.Parallel()
		job := newTestJob(1)

		require.NoError(t, job.Apply(TaskPatch{CompletedChunks: []int{2, 0}}, now))
		require.NoError(t, job.Apply(TaskPatch{CompletedChunks: []int{0, 1}}, now))

		assert.ElementsMatch(t, []int{0, 1, 2}, job.CompletedChunks)
		assert.True(t, job.IsChunkCompleted(1))
		assert.False(t, job.IsChunkCompleted(3))
	})

	t.Run("error list is capped", func(t *testing.T) {
		t.Parallel()
		job := newTestJob(1)
		errs := make([]JobError, MaxJobErrors+5)
		for i := range errs {
			errs[i] = JobError{Code: CodeUnknown, Line: i}
		}

		require.NoError(t, job.Apply(TaskPatch{AppendErrors: errs}, now))
		assert.Len(t, job.Errors, MaxJobErrors)
		assert.Equal(t, 5, job.Errors[0].Line)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		t.Parallel()
		job := newTestJob(1)

		err := job.Apply(TaskPatch{Status: Ptr(JobStatus("bogus"))}, now)
		assert.True(t, errors.Is(err, ErrValidation))
	})
}

func TestCollectionJob_Clone(t *testing.T) {
	t.Parallel()

	job := newTestJob(2)
	started := time.Now()
	job.StartedAt = &started
	job.CompletedChunks = []int{0}

	cp := job.Clone()
	cp.CompletedChunks[0] = 9
	cp.TargetIdentifiers[0] = NumericIdentifier(42)
	*cp.StartedAt = started.Add(time.Hour)

	assert.Equal(t, 0, job.CompletedChunks[0])
	assert.Equal(t, int64(1), job.TargetIdentifiers[0].NumericID)
	assert.Equal(t, started, *job.StartedAt)
}

func TestNewJobError(t *testing.T) {
	t.Parallel()
	now := time.Now()

	vErr := &ValidationError{Line: 4, Raw: "??", Hint: "expected id"}
	je := NewJobError(vErr, "", now)
	assert.Equal(t, CodeValidation, je.Code)
	assert.Equal(t, 4, je.Line)
	assert.Equal(t, "??", je.Raw)

	apiErr := &ExternalAPIError{Kind: Permanent, Operation: "groups.getById", Target: "id:7", Code: "15"}
	je = NewJobError(apiErr, "", now)
	assert.Equal(t, CodeExternalPermanent, je.Code)
	assert.Equal(t, "id:7", je.Identifier)
	assert.Equal(t, "groups.getById", je.Operation)
	assert.Equal(t, "15", je.APICode)
}
