/*
Package errs provides custom error types and application-level error code constants.

This file defines the CustomError struct, which implements the standard Go error interface
and carries a business code, a client-facing message, an HTTP status code and, optionally,
the underlying cause.
*/
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"hzpresence/internal/pkg/logx"
)

// CustomError is the custom error structure used throughout the application.
type CustomError struct {
	// Code is the business error code (see constants definition).
	Code int

	// Message is the client-facing error description.
	Message string

	// Status is the HTTP status code corresponding to this error.
	Status int

	// cause is the error this one was built from, if any.
	cause error
}

// Error returns the client-facing message. Rejection events carry exactly this string.
func (e *CustomError) Error() string {
	return e.Message
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *CustomError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a CustomError with the same code.
func (e *CustomError) Is(target error) bool {
	var t *CustomError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// String renders the code and status alongside the message, for logs.
func (e *CustomError) String() string {
	return fmt.Sprintf("Error Code %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// NewError constructs a *CustomError from a predefined error code.
// details are printf arguments for templates containing a verb. Unknown codes fall back to ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	templateErr, ok := errorMap[code]

	if !ok {
		logx.Error(
			fmt.Errorf("attempted to create an error with an unknown code in errorMap"),
			"Unknown error code requested",
			"requested_code", code,
		)

		unknownErr := errorMap[ErrUnknown]
		return &CustomError{
			Code:    unknownErr.Code,
			Message: unknownErr.Message,
			Status:  unknownErr.Status,
		}
	}

	customErr := templateErr

	if customErr.Status == 0 {
		customErr.Status = http.StatusOK
	}

	if strings.Contains(customErr.Message, "%") {
		if len(details) > 0 {
			customErr.Message = fmt.Sprintf(customErr.Message, details...)
		} else {
			customErr.Message = strings.TrimSpace(strings.ReplaceAll(customErr.Message, "%s", ""))
			customErr.Message = strings.TrimSuffix(customErr.Message, ":")
		}
	} else if len(details) > 0 && code != ErrUnknown {
		logx.Warn(
			"Details provided for error, but message template has no formatting placeholders. Details ignored.",
			"code", code,
		)
	}

	return &customErr
}

// Wrap builds a CustomError for code and records cause as its underlying error.
// Templates with a verb are filled with the cause's message.
func Wrap(code int, cause error) *CustomError {
	var customErr *CustomError
	if cause != nil && strings.Contains(errorMap[code].Message, "%") {
		customErr = NewError(code, cause.Error())
	} else {
		customErr = NewError(code)
	}
	customErr.cause = cause
	return customErr
}

// Sentinel returns a code-only CustomError for use with errors.Is.
func Sentinel(code int) *CustomError {
	return &CustomError{Code: code}
}

// CodeOf extracts the business code of err, or ErrUnknown.
func CodeOf(err error) int {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Code
	}
	return ErrUnknown
}
