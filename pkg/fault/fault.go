// Package fault defines the error taxonomy shared by the registries and the
// HTTP surface. Every error a registry returns to its caller is either a
// *Error or wraps one; the Kind decides the response status.
package fault

import (
	"errors"
	"net/http"
)

// Kind classifies an error. A Kind is itself an error so that
// errors.Is(err, fault.Forbidden) matches any *Error of that kind.
type Kind string

const (
	Unauthenticated    Kind = "unauthenticated"
	InvalidCredentials Kind = "invalid_credentials"
	Forbidden          Kind = "forbidden"
	NotFound           Kind = "not_found"
	Validation         Kind = "validation"
	InvalidAssignee    Kind = "invalid_assignee"
	FileTooLarge       Kind = "file_too_large"
	InvalidContentType Kind = "invalid_content_type"
	Conflict           Kind = "conflict"
	UploadFailed       Kind = "upload_failed"
	Persistence        Kind = "persistence"
	Internal           Kind = "internal"
)

func (k Kind) Error() string { return string(k) }

// Error is a classified error with a message that is safe to show to clients.
type Error struct {
	Kind    Kind
	Message string
	// Retryable marks failures a client may retry unchanged (timeouts).
	Retryable bool
	Err       error
}

// New returns an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap returns an *Error of the given kind carrying err as its cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// KindOf returns the kind of err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Status maps a kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case Unauthenticated, InvalidCredentials:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Validation, InvalidAssignee, FileTooLarge, InvalidContentType, Conflict:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message for a client. Server-side failures never
// leak their cause.
func PublicMessage(err error) string {
	var fe *Error
	if !errors.As(err, &fe) {
		return "Internal server error"
	}
	switch fe.Kind {
	case UploadFailed:
		if fe.Retryable {
			return "File upload timed out, please retry"
		}
		return "File upload failed"
	case Persistence:
		return "Database error"
	case Internal:
		return "Internal server error"
	}
	return fe.Message
}
