package errs

import (
	"errors"
	"net/http"
)

// Code is an application error code.
type Code string

const (
	InvalidArgument   Code = "invalid_argument"
	MissingField      Code = "missing_field"
	DuplicateTitle    Code = "duplicate_title"
	DuplicateUsername Code = "duplicate_username"
	NotFound          Code = "not_found"
	HasDependentNotes Code = "has_dependent_notes"
	NoResults         Code = "no_results"
	AllocationFailed  Code = "allocation_failed"
	StorageError      Code = "storage_error"
	Internal          Code = "internal"
)

// Error is a coded application error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// CodeOf returns the error code, defaulting to internal.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	return Internal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns a user-facing error message.
// If the error has no typed wrapper, returns "internal error" to prevent
// leaking raw DB errors, file paths, or connection strings to API responses.
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return "internal error"
}

// Retryable reports whether a caller may retry an operation that failed
// with code. Only storage failures are transient; every other code is a
// definitive business-rule rejection.
func Retryable(code Code) bool {
	return code == StorageError
}

// HTTPStatus maps error code to HTTP status.
// NotFound maps to 400 rather than 404 to stay compatible with existing
// clients of the notes API.
func HTTPStatus(code Code) int {
	switch code {
	case InvalidArgument, MissingField, NotFound, HasDependentNotes, NoResults:
		return http.StatusBadRequest
	case DuplicateTitle, DuplicateUsername:
		return http.StatusConflict
	case StorageError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
