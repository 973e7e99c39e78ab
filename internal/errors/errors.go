// Package errors defines the coded errors shared by the archive, cover and
// conversion pipeline.
//
// Services return *Error values (or wrap them); callers match with errors.Is
// against the sentinels, which compares codes only:
//
//	if errors.Is(err, errors.ErrEntryNotFound) {
//	    // try another shard
//	}
//
// The HTTP layer turns any *Error into a response through Code.HTTPStatus.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	New    = errors.New
)

// Code represents a machine-readable error code.
type Code string

// Error codes produced by the pipeline.
const (
	CodeArchiveNotFound       Code = "ARCHIVE_NOT_FOUND"
	CodeEntryNotFound         Code = "ENTRY_NOT_FOUND"
	CodeConverterUnavailable  Code = "CONVERTER_UNAVAILABLE"
	CodeConverterTimeout      Code = "CONVERTER_TIMEOUT"
	CodeConverterNonZeroExit  Code = "CONVERTER_NON_ZERO_EXIT"
	CodeUnsupportedConversion Code = "UNSUPPORTED_CONVERSION"
	CodeOutputMissing         Code = "OUTPUT_MISSING"
	CodeNotFound              Code = "NOT_FOUND"
	CodeValidation            Code = "VALIDATION"
	CodeConflict              Code = "CONFLICT"
	CodeInternal              Code = "INTERNAL"
)

// HTTPStatus returns the HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeArchiveNotFound, CodeEntryNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeConverterUnavailable:
		return http.StatusServiceUnavailable
	case CodeConverterTimeout:
		return http.StatusGatewayTimeout
	case CodeConverterNonZeroExit, CodeOutputMissing:
		return http.StatusBadGateway
	case CodeUnsupportedConversion:
		return http.StatusUnprocessableEntity
	case CodeValidation:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a coded error with a message, optional details and an optional cause.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error carrying the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy carrying details.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause returns a copy wrapping err.
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.cause = err
	return &cp
}

// Sentinels for errors.Is.
var (
	ErrArchiveNotFound       = &Error{Code: CodeArchiveNotFound, Message: "archive not found"}
	ErrEntryNotFound         = &Error{Code: CodeEntryNotFound, Message: "entry not found in archive"}
	ErrConverterUnavailable  = &Error{Code: CodeConverterUnavailable, Message: "converter unavailable"}
	ErrConverterTimeout      = &Error{Code: CodeConverterTimeout, Message: "conversion timed out"}
	ErrConverterNonZeroExit  = &Error{Code: CodeConverterNonZeroExit, Message: "converter failed"}
	ErrUnsupportedConversion = &Error{Code: CodeUnsupportedConversion, Message: "unsupported conversion"}
	ErrOutputMissing         = &Error{Code: CodeOutputMissing, Message: "converter produced no output"}
	ErrNotFound              = &Error{Code: CodeNotFound, Message: "not found"}
	ErrValidation            = &Error{Code: CodeValidation, Message: "validation error"}
	ErrConflict              = &Error{Code: CodeConflict, Message: "conflict"}
	ErrInternal              = &Error{Code: CodeInternal, Message: "internal error"}
)

// ArchiveNotFoundf reports that no shard covers a book.
func ArchiveNotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeArchiveNotFound, Message: fmt.Sprintf(format, args...)}
}

// EntryNotFoundf reports that no entry in a shard matched a book.
func EntryNotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeEntryNotFound, Message: fmt.Sprintf(format, args...)}
}

// ConverterTimeout reports that a conversion to target exceeded its deadline.
func ConverterTimeout(target string, cause error) *Error {
	return &Error{Code: CodeConverterTimeout, Message: fmt.Sprintf("conversion to %s timed out", target), cause: cause}
}

// ConverterFailed reports a converter failure for target; output is usually
// the tail of stderr or a response body.
func ConverterFailed(target, output string, cause error) *Error {
	e := &Error{Code: CodeConverterNonZeroExit, Message: fmt.Sprintf("conversion to %s failed", target), cause: cause}
	if output != "" {
		e.Details = map[string]string{"output": output}
	}
	return e
}

// OutputMissing reports that the converter exited cleanly but wrote nothing.
func OutputMissing(target string) *Error {
	return &Error{Code: CodeOutputMissing, Message: fmt.Sprintf("conversion to %s produced no output", target)}
}

// UnsupportedConversion reports that no strategy can produce target from source.
func UnsupportedConversion(source, target string) *Error {
	return &Error{
		Code:    CodeUnsupportedConversion,
		Message: fmt.Sprintf("cannot convert %s to %s", source, target),
		Details: map[string]string{"source": source, "target": target},
	}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
