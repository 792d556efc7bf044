// Package httperr carries an HTTP status alongside an error so domain
// packages can classify failures without importing the API layer.
package httperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an error with an associated HTTP status and a user-facing
// detail message.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string {
	return e.Detail
}

// New builds an Error with the given status.
func New(status int, format string, args ...any) *Error {
	return &Error{Status: status, Detail: fmt.Sprintf(format, args...)}
}

// Unauthorized is the single message used for every authentication
// failure so callers cannot probe which check failed.
func Unauthorized() *Error {
	return &Error{Status: http.StatusUnauthorized, Detail: "Authentication required"}
}

// Forbidden builds a 403.
func Forbidden(format string, args ...any) *Error {
	return New(http.StatusForbidden, format, args...)
}

// NotFound builds a 404.
func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, format, args...)
}

// Gone builds a 410.
func Gone(format string, args ...any) *Error {
	return New(http.StatusGone, format, args...)
}

// Conflict builds a 409.
func Conflict(format string, args ...any) *Error {
	return New(http.StatusConflict, format, args...)
}

// Validation builds a 422.
func Validation(format string, args ...any) *Error {
	return New(http.StatusUnprocessableEntity, format, args...)
}

// BadRequest builds a 400.
func BadRequest(format string, args ...any) *Error {
	return New(http.StatusBadRequest, format, args...)
}

// StatusOf extracts the HTTP status from err, defaulting to 500 for
// unexpected errors.
func StatusOf(err error) (int, string) {
	var he *Error
	if errors.As(err, &he) {
		return he.Status, he.Detail
	}
	return http.StatusInternalServerError, "internal server error"
}
