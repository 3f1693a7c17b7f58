// Package apperror is the service-layer error taxonomy shared by the HTTP handlers.
//
// Every error leaving the account service is an *Error with a Kind, a stable machine code
// and a client-safe message. Internal errors carry an opaque trace id; their cause is
// logged server-side and never serialized.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a classified, client-safe error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	TraceID string

	// status overrides the kind's default HTTP status (authentication is 401 or 403).
	status int
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// Status is the HTTP status for e.
func (e *Error) Status() int {
	if e.status != 0 {
		return e.status
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Validation builds a 400 error.
func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

// Unauthenticated builds a 401 error.
func Unauthenticated(code, msg string) *Error {
	return &Error{Kind: KindAuthentication, Code: code, Message: msg, status: http.StatusUnauthorized}
}

// InvalidCredential builds a 403 authentication error (a credential was presented but rejected).
func InvalidCredential(code, msg string) *Error {
	return &Error{Kind: KindAuthentication, Code: code, Message: msg, status: http.StatusForbidden}
}

// Forbidden builds a 403 authorization error.
func Forbidden(code, msg string) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: msg}
}

// Conflict builds a 409 error.
func Conflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

// NotFound builds a 404 error.
func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

// Internal wraps cause behind a generic message and a fresh trace id.
func Internal(cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    "internal_error",
		Message: "internal error",
		TraceID: uuid.NewString(),
		cause:   cause,
	}
}

// As extracts an *Error from err; unclassified errors become Internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// Is reports whether err is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
