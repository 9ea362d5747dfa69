package dto

import (
	"net/http"

	"github.com/erp/costalloc/internal/domain/shared"
)

// Error codes returned by the API. Domain errors keep their own code so a
// client sees the same value in HTTP responses, quarantine attributes and logs.
const (
	ErrCodeMetadataNotRegistered = shared.CodeMetadataNotRegistered
	ErrCodeDataFormat            = shared.CodeDataFormat
	ErrCodeValidation            = shared.CodeValidation
	ErrCodeInvalidPeriod         = shared.CodeInvalidPeriod
	ErrCodeInvalidInput          = shared.CodeInvalidInput
	ErrCodeNotFound              = shared.CodeNotFound
	ErrCodeLockNotObtained       = shared.CodeLockNotObtained
	ErrCodeTransactionFailure    = shared.CodeTransactionFailure
	ErrCodeRecomputeFailed       = shared.CodeRecomputeFailed
)

// Transport error codes
const (
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	ErrCodeUnavailable     = "SERVICE_UNAVAILABLE"
	ErrCodeAlreadyQueued   = "JOB_ALREADY_QUEUED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	// Rejected batches and bad requests -> 400 Bad Request
	ErrCodeMetadataNotRegistered: http.StatusBadRequest,
	ErrCodeDataFormat:            http.StatusBadRequest,
	ErrCodeValidation:            http.StatusBadRequest,
	ErrCodeInvalidPeriod:         http.StatusBadRequest,
	ErrCodeInvalidInput:          http.StatusBadRequest,
	ErrCodeBadRequest:            http.StatusBadRequest,

	ErrCodeNotFound: http.StatusNotFound,

	// Another worker holds the slice
	ErrCodeLockNotObtained: http.StatusConflict,
	ErrCodeAlreadyQueued:   http.StatusConflict,

	ErrCodePayloadTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeUnavailable:     http.StatusServiceUnavailable,

	ErrCodeTransactionFailure: http.StatusInternalServerError,
	ErrCodeRecomputeFailed:    http.StatusInternalServerError,
	ErrCodeInternal:           http.StatusInternalServerError,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
