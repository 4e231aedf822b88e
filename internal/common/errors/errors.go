// Package errors provides standardized error handling for GrantWell handlers.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeGrantsSearchFailed ErrorCode = "GRANTS_SEARCH_FAILED"
	ErrCodeGrantsDetailFailed ErrorCode = "GRANTS_DETAIL_FAILED"
	ErrCodeAttachmentDownload ErrorCode = "ATTACHMENT_DOWNLOAD_FAILED"

	ErrCodeClassificationAmbiguous ErrorCode = "CLASSIFICATION_AMBIGUOUS"
	ErrCodeCategoryUnmapped        ErrorCode = "CATEGORY_UNMAPPED"
	ErrCodeUnsupportedFileType     ErrorCode = "UNSUPPORTED_FILE_TYPE"

	ErrCodeObjectStoreFailed   ErrorCode = "OBJECT_STORE_FAILED"
	ErrCodeMetadataWriteFailed ErrorCode = "METADATA_WRITE_FAILED"
	ErrCodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionStoreFailed  ErrorCode = "SESSION_STORE_FAILED"
	ErrCodeFeedbackStoreFailed ErrorCode = "FEEDBACK_STORE_FAILED"
	ErrCodeDraftStoreFailed    ErrorCode = "DRAFT_STORE_FAILED"

	ErrCodeRetrievalFailed  ErrorCode = "RETRIEVAL_FAILED"
	ErrCodeModelInvokeError ErrorCode = "MODEL_INVOKE_ERROR"
	ErrCodeModelStreamError ErrorCode = "MODEL_STREAM_ERROR"
	ErrCodeKBSyncFailed     ErrorCode = "KB_SYNC_FAILED"

	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// NewGrantsSearchFailedError wraps a failed search-page fetch. The pipeline
// aborts the run on this one, so it is marked non-retryable.
func NewGrantsSearchFailedError(page int, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGrantsSearchFailed,
		Message:   "Opportunity search page fetch failed",
		Details:   fmt.Sprintf("page: %d, error: %s", page, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewGrantsDetailFailedError wraps a failed per-opportunity detail fetch.
func NewGrantsDetailFailedError(opportunityID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGrantsDetailFailed,
		Message:   "Opportunity detail fetch failed",
		Details:   fmt.Sprintf("opportunityId: %s, error: %s", opportunityID, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAttachmentDownloadError wraps a failed document download.
func NewAttachmentDownloadError(title string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAttachmentDownload,
		Message:   "Attachment download failed",
		Details:   fmt.Sprintf("title: %s, error: %s", title, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewClassificationAmbiguousError marks an opportunity whose attachment could
// not be disambiguated. Treated as "cannot determine", never propagated.
func NewClassificationAmbiguousError(title, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeClassificationAmbiguous,
		Message:   "Could not determine the funding notice attachment",
		Details:   fmt.Sprintf("title: %s, %s", title, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewObjectStoreError wraps a document upload or listing failure.
func NewObjectStoreError(key string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeObjectStoreFailed,
		Message:   "Object store operation failed",
		Details:   fmt.Sprintf("key: %s, error: %s", key, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMetadataWriteError wraps a metadata row write failure. Backfill writes
// are logged and swallowed by callers; the object store copy is the source
// of truth.
func NewMetadataWriteError(name string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeMetadataWriteFailed,
		Message:   "Metadata write failed",
		Details:   fmt.Sprintf("name: %s, error: %s", name, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionNotFoundError reports a missing session record.
func NewSessionNotFoundError(sessionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionNotFound,
		Message:   "Session not found",
		Details:   fmt.Sprintf("sessionId: %s", sessionID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRetrievalFailedError wraps a knowledge base query failure. Callers fall
// back to an unfiltered query before surfacing a degraded response.
func NewRetrievalFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRetrievalFailed,
		Message:   "Knowledge base retrieval failed",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewModelInvokeError wraps a synchronous model invocation failure.
func NewModelInvokeError(modelID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeModelInvokeError,
		Message:   "Model invocation failed",
		Details:   fmt.Sprintf("modelId: %s, error: %s", modelID, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationFailedError reports a request payload that failed schema
// validation.
func NewValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnauthorizedError reports a missing or insufficient role claim.
func NewUnauthorizedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnauthorized,
		Message:   "User is not authorized to perform this action",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      "EXTERNAL_SERVICE_ERROR",
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "GRANTS") || strings.Contains(codeStr, "ATTACHMENT"):
		return "INGESTION"
	case strings.Contains(codeStr, "CLASSIFICATION") || strings.Contains(codeStr, "CATEGORY") || strings.Contains(codeStr, "FILE_TYPE"):
		return "CLASSIFICATION"
	case strings.Contains(codeStr, "OBJECT_STORE") || strings.Contains(codeStr, "METADATA") || strings.Contains(codeStr, "STORE"):
		return "PERSISTENCE"
	case strings.Contains(codeStr, "RETRIEVAL") || strings.Contains(codeStr, "MODEL") || strings.Contains(codeStr, "KB"):
		return "AI"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "UNAUTHORIZED"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
