package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"validation", &ValidationError{Line: 1, Raw: "x", Hint: "y"}, CodeValidation},
		{"duplicate task", fmt.Errorf("create: %w", ErrDuplicateTask), CodeDuplicateTask},
		{"task not found", ErrTaskNotFound, CodeTaskNotFound},
		{"rate limited", &ExternalAPIError{Kind: Transient, Err: ErrRateLimitExceeded}, CodeRateLimited},
		{"transient", &ExternalAPIError{Kind: Transient, Code: "10"}, CodeExternalTransient},
		{"permanent", &ExternalAPIError{Kind: Permanent, Code: "15"}, CodeExternalPermanent},
		{"storage", NewStorageError("get", errors.New("connection refused")), CodeStorage},
		{"cancelled", context.Canceled, CodeCancelled},
		{"unknown", errors.New("boom"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestNewStorageError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, NewStorageError("get", nil))

	// Lifecycle sentinels are not infrastructure failures.
	err := NewStorageError("get", fmt.Errorf("x: %w", ErrTaskNotFound))
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.NotErrorIs(t, err, ErrStorage)

	cause := errors.New("dial tcp: refused")
	err = NewStorageError("update", cause)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)

	var sErr *StorageError
	assert.True(t, errors.As(err, &sErr))
	assert.Equal(t, "update", sErr.Operation)
}

func TestExternalAPIError(t *testing.T) {
	t.Parallel()

	base := &ExternalAPIError{Kind: Transient, Operation: "groups.getById", Code: "6", Err: ErrRateLimitExceeded}
	scoped := base.WithTarget("name:durov")

	assert.Empty(t, base.Target)
	assert.Equal(t, "name:durov", scoped.Target)
	assert.Contains(t, scoped.Error(), "name:durov")
	assert.Contains(t, scoped.Error(), "code 6")
	assert.True(t, IsTransientAPIError(fmt.Errorf("wrapped: %w", scoped)))
	assert.False(t, IsTransientAPIError(&ExternalAPIError{Kind: Permanent}))
}
