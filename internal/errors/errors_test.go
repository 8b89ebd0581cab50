package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		category Category
		severity Severity
		retry    bool
	}{
		{"invalid query", ErrCodeInvalidQuery, CategoryValidation, SeverityError, false},
		{"invalid limit", ErrCodeInvalidLimit, CategoryValidation, SeverityError, false},
		{"index unavailable", ErrCodeIndexUnavailable, CategoryBackend, SeverityError, true},
		{"partial failure", ErrCodePartialFailure, CategoryInternal, SeverityWarning, false},
		{"synthesis failure", ErrCodeSynthesisFailure, CategoryInternal, SeverityWarning, false},
		{"config invalid", ErrCodeConfigInvalid, CategoryConfig, SeverityFatal, false},
		{"snapshot corrupt", ErrCodeSnapshotCorrupt, CategoryStorage, SeverityFatal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retry, err.Retryable)
		})
	}
}

func TestHukmError_ErrorIncludesField(t *testing.T) {
	err := InvalidLimit(200, 1, 100)
	assert.Contains(t, err.Error(), "limit")
	assert.Contains(t, err.Error(), ErrCodeInvalidLimit)
	assert.Equal(t, "limit", GetField(err))
}

func TestHukmError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", InvalidQuery("empty query"))
	assert.True(t, stderrors.Is(err, New(ErrCodeInvalidQuery, "", nil)))
	assert.False(t, stderrors.Is(err, New(ErrCodeInvalidLimit, "", nil)))
}

func TestHukmError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := IndexUnavailable("qdrant unreachable", cause)
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	require.Nil(t, Wrap(ErrCodeInternal, "nothing happened", nil))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(InvalidThreshold(1.5)))
	assert.False(t, IsValidation(Internal("oops", nil)))
	assert.False(t, IsValidation(stderrors.New("plain")))
}

func TestWithDetail(t *testing.T) {
	err := Internal("fusion failed", nil).
		WithDetail("dense_count", "10").
		WithDetail("sparse_count", "0")
	assert.Equal(t, "10", err.Details["dense_count"])
	assert.Equal(t, "0", err.Details["sparse_count"])
}

func TestHelpers_WalkWrappedChains(t *testing.T) {
	// Retry wraps the final failure with fmt.Errorf, so the helpers must
	// see through non-HukmError wrappers.
	wrapped := fmt.Errorf("failed after 1 retries: %w",
		IndexUnavailable("vector index unreachable", stderrors.New("connection refused")))

	assert.Equal(t, ErrCodeIndexUnavailable, GetCode(wrapped))
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsValidation(wrapped))

	deep := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", InvalidThreshold(1.5)))
	assert.Equal(t, ErrCodeInvalidThreshold, GetCode(deep))
	assert.Equal(t, "score_threshold", GetField(deep))
	assert.True(t, IsValidation(deep))

	assert.Empty(t, GetCode(stderrors.New("plain")))
	assert.Empty(t, GetField(nil))
	assert.False(t, IsRetryable(nil))
}
