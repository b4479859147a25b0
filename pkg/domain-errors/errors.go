// Package domainerrors provides coded errors shared across services.
//
// Services wrap infrastructure errors (see pkg/platform/sentinel) into coded
// errors at the service boundary; the HTTP layer translates codes into status
// codes via ToHTTPStatus. Codes are stable strings safe to return to clients.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error for transport mapping and branching.
type Code string

const (
	// CodeValidation covers malformed or missing request fields. Rejected
	// before any store access.
	CodeValidation Code = "validation_error"

	// CodeBadRequest covers structurally valid but unusable requests.
	CodeBadRequest Code = "bad_request"

	// CodeInvalidInput covers values failing domain parsing (IDs, enums).
	CodeInvalidInput Code = "invalid_input"

	// CodeNotFound: the referenced entity does not exist.
	CodeNotFound Code = "not_found"

	// CodeUnauthorized: the actor lacks the required role or capability.
	// Distinct from CodeNotFound to avoid leaking existence.
	CodeUnauthorized Code = "unauthorized"

	// CodeForbidden: authenticated but not permitted.
	CodeForbidden Code = "forbidden"

	// CodeConflict: optimistic-concurrency loss, duplicate approval, or an
	// action on an already-final decision.
	CodeConflict Code = "conflict"

	// CodeQuotaExceeded: a daily count or delegation usage cap was hit.
	CodeQuotaExceeded Code = "quota_exceeded"

	// CodeDownstream: a post-quorum dispatch to signing or recovery
	// execution failed. Terminal for the decision, not retryable.
	CodeDownstream Code = "downstream_failure"

	// CodeInvariantViolation: a domain invariant would be broken. Services
	// usually translate this into a more specific code before returning.
	CodeInvariantViolation Code = "invariant_violation"

	// CodeInternal: unexpected infrastructure failure.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields
// a plain coded error so call sites don't need to branch.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return New(code, message)
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost coded error, or CodeInternal when
// the error carries no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the message of the outermost coded error, or empty.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}

// ToHTTPStatus maps a code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBadRequest, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeDownstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
