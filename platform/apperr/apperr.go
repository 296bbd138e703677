// Package apperr provides standardized domain error types for the application.
// Domain services and collaborator clients return these typed errors; the job
// runner uses the Kind to decide between retrying and dead-lettering, and the
// HTTP layer maps them to status codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind represents the category of error.
type Kind int

const (
	// KindUnknown is the default error kind when none is specified.
	KindUnknown Kind = iota
	// KindNotFound indicates a resource was not found.
	KindNotFound
	// KindValidation indicates invalid input data or a malformed payload.
	KindValidation
	// KindConflict indicates a conflict with existing state (e.g., duplicate).
	KindConflict
	// KindForbidden indicates the action is not allowed for the actor.
	KindForbidden
	// KindBadRequest indicates a request a collaborator rejected as invalid.
	KindBadRequest
	// KindInternal indicates an unexpected internal error.
	KindInternal
	// KindBusinessRule indicates a rejected state transition or operator mismatch.
	KindBusinessRule
	// KindUnavailable indicates a dependency could not be reached (transient).
	KindUnavailable
	// KindRateLimited indicates a dependency asked us to slow down (transient).
	KindRateLimited
	// KindTimeout indicates a dependency did not answer in time (transient).
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindBadRequest:
		return "bad_request"
	case KindInternal:
		return "internal"
	case KindBusinessRule:
		return "business_rule"
	case KindUnavailable:
		return "unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a domain error with a typed Kind.
type Error struct {
	Kind    Kind
	Message string
	Op      string      // Operation that failed (optional)
	Err     error       // Underlying error (optional)
	Details interface{} // Additional details for response (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the appropriate HTTP status code for this error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindConflict, KindBusinessRule:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// New creates a new domain error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a new domain error wrapping an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithOp returns the error with the operation set.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithDetails returns the error with additional details.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// Convenience constructors for common error types.

// NotFound creates a not found error.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// Validation creates a validation error.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Conflict creates a conflict error (e.g., duplicate resource).
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// Forbidden creates a forbidden error.
func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

// BadRequest creates a bad request error.
func BadRequest(message string) *Error {
	return New(KindBadRequest, message)
}

// Internal creates an internal server error.
func Internal(message string) *Error {
	return New(KindInternal, message)
}

// BusinessRule creates an error for a rejected business rule.
func BusinessRule(message string) *Error {
	return New(KindBusinessRule, message)
}

// Unavailable creates a transient dependency error.
func Unavailable(message string, err error) *Error {
	return Wrap(KindUnavailable, message, err)
}

// RateLimited creates a transient rate-limit error.
func RateLimited(message string) *Error {
	return New(KindRateLimited, message)
}

// Timeout creates a transient timeout error.
func Timeout(message string, err error) *Error {
	return Wrap(KindTimeout, message, err)
}

// FromHTTPStatus classifies a collaborator HTTP status into an error kind.
// 429 is rate limited, 408/504 time out, other 5xx are unavailable, the rest of
// 4xx are bad requests.
func FromHTTPStatus(status int, message string) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited(message)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return Timeout(message, nil)
	case status >= http.StatusInternalServerError:
		return Unavailable(message, nil)
	case status == http.StatusNotFound:
		return NotFound(message)
	default:
		return BadRequest(message)
	}
}

// GetKind extracts the error kind from an error chain.
// Returns KindUnknown if no *Error is found.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is checks if err is an *Error with the given kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// IsRetryable reports whether err describes a transient failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch GetKind(err) {
	case KindUnavailable, KindRateLimited, KindTimeout:
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsFatal reports whether err is known to be permanent.
func IsFatal(err error) bool {
	switch GetKind(err) {
	case KindNotFound, KindValidation, KindBadRequest, KindBusinessRule, KindConflict, KindForbidden:
		return true
	}
	return false
}
