package shared

import (
	"errors"
	"fmt"
)

// Error codes shared by the ingestion and allocation flows
const (
	CodeNotFound              = "NOT_FOUND"
	CodeInvalidInput          = "INVALID_INPUT"
	CodeMetadataNotRegistered = "METADATA_NOT_REGISTERED"
	CodeDataFormat            = "DATA_FORMAT_ERROR"
	CodeValidation            = "VALIDATION_ERROR"
	CodeTransactionFailure    = "TRANSACTION_FAILURE"
	CodeInvalidPeriod         = "INVALID_PERIOD"
	CodeLockNotObtained       = "LOCK_NOT_OBTAINED"
	CodeRecomputeFailed       = "RECOMPUTE_FAILED"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap exposes the underlying store or transport error
func (e *DomainError) Unwrap() error {
	return e.cause
}

// Is matches domain errors by code so sentinel comparisons survive wrapping
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error carrying structured details
func (e *DomainError) WithDetails(details any) *DomainError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause returns a copy of the error wrapping cause
func (e *DomainError) WithCause(cause error) *DomainError {
	cp := *e
	cp.cause = cause
	return &cp
}

// Common domain errors
var (
	ErrNotFound      = NewDomainError(CodeNotFound, "Resource not found")
	ErrInvalidInput  = NewDomainError(CodeInvalidInput, "Invalid input provided")
	ErrDataFormat    = NewDomainError(CodeDataFormat, "Malformed batch payload")
	ErrInvalidPeriod = NewDomainError(CodeInvalidPeriod, "period_start must not be after period_end")
)

// NewMetadataNotRegistered reports an external type name with no registered schema
func NewMetadataNotRegistered(typeName string) *DomainError {
	return NewDomainError(CodeMetadataNotRegistered,
		fmt.Sprintf("unknown metadata %q: no schema is registered for it", typeName))
}

// NewDataFormatError reports a batch or group with the wrong shape
func NewDataFormatError(format string, args ...any) *DomainError {
	return NewDomainError(CodeDataFormat, fmt.Sprintf(format, args...))
}

// NewTransactionFailure wraps a store error that rolled back a unit of work
func NewTransactionFailure(unit string, cause error) *DomainError {
	return NewDomainError(CodeTransactionFailure, unit+" rolled back").WithCause(cause)
}

// NewLockNotObtained reports a lock held by another worker past the wait time
func NewLockNotObtained(key string) *DomainError {
	return NewDomainError(CodeLockNotObtained, fmt.Sprintf("lock %s is held by another worker", key))
}

// HasCode reports whether err is a DomainError with the given code
func HasCode(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsPermanent reports whether redelivering the same input can never succeed
func IsPermanent(err error) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	switch de.Code {
	case CodeMetadataNotRegistered, CodeDataFormat, CodeValidation, CodeInvalidPeriod, CodeInvalidInput:
		return true
	}
	return false
}
