// Package quota implements the sliding-window counting engine and the
// multi-limit resource manager built on top of it.
package quota

import "errors"

// ErrorCode identifies the kind of failure a quota operation produced.
type ErrorCode string

const (
	CodeInvalidArgument     ErrorCode = "INVALID_ARGUMENT"
	CodeBackendUnreachable  ErrorCode = "BACKEND_UNREACHABLE"
	CodeBackendInconsistent ErrorCode = "BACKEND_INCONSISTENT"
)

// AppError is a typed application error, mirroring how the teacher repo's
// core package distinguishes failure kinds without string matching.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap builds an AppError with the given code, message, and cause.
func Wrap(code ErrorCode, msg string, err error) error {
	return &AppError{Code: code, Message: msg, Err: err}
}

// CodeOf extracts the ErrorCode carried by err, or "" if err is not an
// AppError (or is nil).
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ErrInvalidArgument indicates a non-positive N/W/weight or an unknown
// limit type name, raised only at the configuration boundary.
var ErrInvalidArgument = &AppError{Code: CodeInvalidArgument, Message: "invalid argument"}
