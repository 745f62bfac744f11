// Package apperr defines the application error taxonomy shared by the
// services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation Kind = "validation_error"
	KindRejected   Kind = "rejected"
	KindForbidden  Kind = "forbidden"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal_error"
)

// Error carries a kind, a client-safe message, and an HTTP status code.
// The message is the only detail exposed to callers; forensic context
// belongs in logs or the fraud trail, not here.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Code    int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Validation reports malformed client input.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Code: http.StatusBadRequest}
}

// Rejected is the generic refusal used for invalid sessions, bad tokens,
// unknown students, and fraud-check failures. The message is deliberately
// uniform across causes so the endpoint cannot be used for enumeration.
func Rejected(message string) *Error {
	return &Error{Kind: KindRejected, Message: message, Code: http.StatusForbidden}
}

// Forbidden reports an ownership or permission mismatch.
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message, Code: http.StatusForbidden}
}

// Conflict reports an operation against state that has already moved on.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message, Code: http.StatusConflict}
}

// Internal is the generic client-facing shape for unexpected failures.
func Internal() *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Code: http.StatusInternalServerError}
}

// From extracts an *Error from err, mapping unknown errors to Internal.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal()
}
