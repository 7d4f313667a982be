package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a snapkeep error code.
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"   // 400
	ErrNotFound        ErrorCode = "NOT_FOUND"         // 404
	ErrFileExists      ErrorCode = "FILE_EXISTS"       // 409
	ErrBusy            ErrorCode = "BUSY"              // 409
	ErrCorruptHeader   ErrorCode = "CORRUPT_HEADER"    // 422
	ErrLabelNotAllowed ErrorCode = "LABEL_NOT_ALLOWED" // 422
	ErrNoData          ErrorCode = "NO_DATA"           // 422
	ErrNoConn          ErrorCode = "NO_CONN"           // 424
	ErrInternal        ErrorCode = "INTERNAL"          // 500
)

// SnapError represents a structured error with code, status, and details.
type SnapError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *SnapError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *SnapError {
	return &SnapError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a capture file or request file that cannot be found.
func NewNotFound(identifier string) *SnapError {
	return &SnapError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileExists creates a 409 error when a save would overwrite an existing capture.
func NewFileExists(name string) *SnapError {
	return &SnapError{
		Code:    ErrFileExists,
		Status:  409,
		Message: fmt.Sprintf("capture file %q already exists", name),
		Details: map[string]any{"name": name},
	}
}

// NewBusy creates a 409 error when another restore is still in flight.
func NewBusy() *SnapError {
	return &SnapError{
		Code:    ErrBusy,
		Status:  409,
		Message: "previous restore not finished",
	}
}

// NewCorruptHeader creates a 422 error for a capture file whose first line is not a valid header.
func NewCorruptHeader(path, reason string) *SnapError {
	return &SnapError{
		Code:    ErrCorruptHeader,
		Status:  422,
		Message: fmt.Sprintf("corrupt header in %s: %s", path, reason),
		Details: map[string]any{"path": path, "reason": reason},
	}
}

// NewLabelNotAllowed creates a 422 error when labels are restricted to the configured defaults.
func NewLabelNotAllowed(labels []string) *SnapError {
	return &SnapError{
		Code:    ErrLabelNotAllowed,
		Status:  422,
		Message: fmt.Sprintf("labels not in default label set: %s", strings.Join(labels, ", ")),
		Details: map[string]any{"labels": labels},
	}
}

// NewNoData creates a 422 error when there is nothing to restore or save.
func NewNoData(msg string) *SnapError {
	return &SnapError{
		Code:    ErrNoData,
		Status:  422,
		Message: msg,
	}
}

// NewNoConn creates a 424 error listing items whose live counterpart is not connected.
func NewNoConn(items []string) *SnapError {
	return &SnapError{
		Code:    ErrNoConn,
		Status:  424,
		Message: fmt.Sprintf("%d items not connected", len(items)),
		Details: map[string]any{"items": items},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *SnapError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &SnapError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is (or wraps) a SnapError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *SnapError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// As returns the SnapError in err's chain, if any.
func As(err error) (*SnapError, bool) {
	var sErr *SnapError
	ok := stderrors.As(err, &sErr)
	return sErr, ok
}
