// Package errors provides structured domain errors with stable codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Conversation errors
	CodeConversationNotFound Code = "CONVERSATION_NOT_FOUND"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeValidationFailed     Code = "VALIDATION_FAILED"
	CodeUnknownParticipant   Code = "UNKNOWN_PARTICIPANT"

	// Storage errors
	CodeNotFound            Code = "NOT_FOUND"
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	CodeStorageUnavailable  Code = "STORAGE_UNAVAILABLE"

	// Query errors
	CodeInvalidFilter    Code = "INVALID_FILTER"
	CodeInvalidPageToken Code = "INVALID_PAGE_TOKEN"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeValidationFailed,
		CodeUnknownParticipant,
		CodeInvalidFilter,
		CodeInvalidPageToken:
		return http.StatusBadRequest

	// Not found - resource doesn't exist
	case CodeConversationNotFound,
		CodeNotFound:
		return http.StatusNotFound

	// Conflict - state doesn't allow the operation or a concurrent writer won
	case CodeInvalidTransition,
		CodeConcurrencyConflict:
		return http.StatusConflict

	case CodeStorageUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a command may be retried after this failure.
func (c Code) Retryable() bool {
	return c == CodeConcurrencyConflict || c == CodeStorageUnavailable
}
