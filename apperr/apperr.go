package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of outcomes a handler can report to a caller.
// Status codes are attached here but only read at the HTTP boundary; the
// engine and store never look at them.
type Kind string

const (
	Unauthenticated           Kind = "Unauthenticated"
	MalformedRequest          Kind = "MalformedRequest"
	InvalidToken              Kind = "InvalidToken"
	PermissionDenied          Kind = "PermissionDenied"
	InvalidUsernameOrPassword Kind = "InvalidUsernameOrPassword"
	UsernameTaken             Kind = "UsernameTaken"
	InvalidRecipient          Kind = "InvalidRecipient"
	InsufficientBalance       Kind = "InsufficientBalance"
	ServiceUnavailable        Kind = "ServiceUnavailable"
	ServerError               Kind = "ServerError"
)

// Error pairs a Kind with an optional machine-readable detail and the
// underlying cause. Detail is shown to callers; Err is not.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Detail != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf extracts the Kind from err, or ServerError for anything that is
// not an *Error. Unexpected collaborator failures therefore map to 500
// without leaking internals.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ServerError
}

// DetailOf returns the caller-visible detail, empty for unknown errors.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return ""
}

// Status maps a Kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case Unauthenticated, InvalidToken:
		return http.StatusUnauthorized
	case MalformedRequest, UsernameTaken, InvalidRecipient:
		return http.StatusBadRequest
	case PermissionDenied, InvalidUsernameOrPassword, InsufficientBalance:
		return http.StatusForbidden
	case ServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
