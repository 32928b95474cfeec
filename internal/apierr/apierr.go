// Package apierr defines the closed set of error kinds used across the
// orchestrator and the HTTP status mapping applied at the API boundary.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error categories from the error handling design.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindConfig          Kind = "config"
	KindUpstream        Kind = "upstream"
	KindTimeout         Kind = "timeout"
	KindCancelled       Kind = "cancelled"
	KindInternal        Kind = "internal"
)

// Error wraps an underlying error with a Kind so the API layer can map it to
// an HTTP status without inspecting error strings.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) *Error         { return New(KindNotFound, message) }
func Validation(message string) *Error       { return New(KindValidation, message) }
func PermissionDenied(message string) *Error { return New(KindPermissionDenied, message) }
func Config(message string, err error) *Error { return Wrap(KindConfig, message, err) }
func Upstream(message string, err error) *Error { return Wrap(KindUpstream, message, err) }
func Timeout(message string) *Error          { return New(KindTimeout, message) }
func Cancelled(message string) *Error        { return New(KindCancelled, message) }
func Internal(message string, err error) *Error { return Wrap(KindInternal, message, err) }

// KindOf extracts the Kind from err, defaulting to KindInternal when err does
// not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the HTTP status code per the error handling table.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindConfig, KindInternal:
		return http.StatusInternalServerError
	case KindUpstream, KindTimeout:
		return http.StatusBadGateway
	case KindCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
