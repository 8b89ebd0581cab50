// Package errors provides structured error handling for hukm.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (index files, SQLite)
//   - 3XX: Backend errors (vector index, embedder endpoints)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index and database storage errors.
	CategoryStorage Category = "STORAGE"
	// CategoryBackend indicates errors reaching a backing store or model endpoint.
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates request validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeSnapshotNotFound = "ERR_201_SNAPSHOT_NOT_FOUND"
	ErrCodeSnapshotCorrupt  = "ERR_202_SNAPSHOT_CORRUPT"
	ErrCodeStoreClosed      = "ERR_203_STORE_CLOSED"
	ErrCodeIndexLocked      = "ERR_204_INDEX_LOCKED"

	// Backend errors (300-399)
	ErrCodeIndexUnavailable  = "ERR_301_INDEX_UNAVAILABLE"
	ErrCodeEmbedderTimeout   = "ERR_302_EMBEDDER_TIMEOUT"
	ErrCodeEmbeddingFailed   = "ERR_303_EMBEDDING_FAILED"
	ErrCodeDimensionMismatch = "ERR_304_DIMENSION_MISMATCH"

	// Validation errors (400-499)
	ErrCodeInvalidQuery     = "ERR_401_INVALID_QUERY"
	ErrCodeInvalidLimit     = "ERR_402_INVALID_LIMIT"
	ErrCodeInvalidThreshold = "ERR_403_INVALID_THRESHOLD"
	ErrCodeInvalidFilter    = "ERR_404_INVALID_FILTER"
	ErrCodeUnauthorized     = "ERR_405_UNAUTHORIZED"

	// Internal errors (500-599)
	ErrCodeInternal         = "ERR_501_INTERNAL"
	ErrCodeSearchFailed     = "ERR_502_SEARCH_FAILED"
	ErrCodePartialFailure   = "ERR_503_PARTIAL_FAILURE"
	ErrCodeSynthesisFailure = "ERR_504_SYNTHESIS_FAILURE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from error code.
// Partial failures degrade rather than abort.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodePartialFailure, ErrCodeSynthesisFailure:
		return SeverityWarning
	case ErrCodeConfigInvalid, ErrCodeSnapshotCorrupt:
		return SeverityFatal
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code may be retried.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeIndexUnavailable, ErrCodeEmbedderTimeout, ErrCodeIndexLocked:
		return true
	default:
		return false
	}
}
