package ingest

import (
	"fmt"

	"github.com/erp/costalloc/internal/domain/shared"
)

// Row error codes
const (
	ErrCodeRequiredField = "ERR_INGEST_REQUIRED_FIELD"
	ErrCodeInvalidType   = "ERR_INGEST_INVALID_TYPE"
	ErrCodeInvalidLength = "ERR_INGEST_INVALID_LENGTH"
	ErrCodeMalformedRow  = "ERR_INGEST_MALFORMED_ROW"
)

// DefaultMaxErrors caps the row errors kept per validation failure
const DefaultMaxErrors = 100

// RowError represents an error in a specific row of a group
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// Error implements the error interface
func (e RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d, column '%s': %s", e.Row, e.Column, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// ErrorCollection accumulates row errors up to a limit
type ErrorCollection struct {
	errors     []RowError
	maxErrors  int
	totalCount int
}

// NewErrorCollection creates a new ErrorCollection with a maximum error limit
func NewErrorCollection(maxErrors int) *ErrorCollection {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	return &ErrorCollection{maxErrors: maxErrors}
}

// Add adds an error to the collection
func (ec *ErrorCollection) Add(err RowError) {
	ec.totalCount++
	if len(ec.errors) < ec.maxErrors {
		ec.errors = append(ec.errors, err)
	}
}

// AddRequiredError adds a required field error
func (ec *ErrorCollection) AddRequiredError(row int, column string) {
	ec.Add(RowError{Row: row, Column: column, Code: ErrCodeRequiredField,
		Message: fmt.Sprintf("field '%s' is required", column)})
}

// AddTypeError adds a type coercion error
func (ec *ErrorCollection) AddTypeError(row int, column string, expected ColumnType, value any) {
	ec.Add(RowError{Row: row, Column: column, Code: ErrCodeInvalidType,
		Message: fmt.Sprintf("expected %s", expected), Value: fmt.Sprint(value)})
}

// AddLengthError adds a max length error
func (ec *ErrorCollection) AddLengthError(row int, column string, maxLen int) {
	ec.Add(RowError{Row: row, Column: column, Code: ErrCodeInvalidLength,
		Message: fmt.Sprintf("length must be at most %d", maxLen)})
}

// Errors returns the collected errors
func (ec *ErrorCollection) Errors() []RowError {
	return ec.errors
}

// TotalCount returns the total number of errors including those not collected
func (ec *ErrorCollection) TotalCount() int {
	return ec.totalCount
}

// HasErrors returns true if any error was added
func (ec *ErrorCollection) HasErrors() bool {
	return ec.totalCount > 0
}

// ValidationDetails is attached to VALIDATION_ERROR domain errors
type ValidationDetails struct {
	TypeName   string     `json:"type_name"`
	Errors     []RowError `json:"errors"`
	TotalCount int        `json:"total_count"`
}

// NewValidationError builds the typed error for a group whose rows failed coercion
func NewValidationError(typeName string, ec *ErrorCollection) *shared.DomainError {
	msg := fmt.Sprintf("%d row error(s) in '%s'", ec.TotalCount(), typeName)
	if errs := ec.Errors(); len(errs) > 0 {
		msg = fmt.Sprintf("%s, first: %s", msg, errs[0].Error())
	}
	return shared.NewDomainError(shared.CodeValidation, msg).WithDetails(ValidationDetails{
		TypeName:   typeName,
		Errors:     ec.Errors(),
		TotalCount: ec.TotalCount(),
	})
}
