// Package apperr defines the classified error type used across the trust
// engine so HTTP handlers and callers can distinguish failure kinds without
// string-matching error messages.
package apperr

import (
	"errors"
	"net/http"
)

// Kind identifies the category of a failure as exposed over the wire.
type Kind string

const (
	KindValidation   Kind = "validation_error"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindDuplicate    Kind = "duplicate"
	KindConflict     Kind = "conflict"
	KindRateLimited  Kind = "rate_limited"
	KindConfig       Kind = "config_error"
	KindStorage      Kind = "storage_error"
	KindDispatch     Kind = "dispatch_error"
)

var statusByKind = map[Kind]int{
	KindValidation:   http.StatusBadRequest,
	KindUnauthorized: http.StatusUnauthorized,
	KindForbidden:    http.StatusForbidden,
	KindNotFound:     http.StatusNotFound,
	KindDuplicate:    http.StatusConflict,
	KindConflict:     http.StatusConflict,
	KindRateLimited:  http.StatusTooManyRequests,
	KindConfig:       http.StatusInternalServerError,
	KindStorage:      http.StatusInternalServerError,
	KindDispatch:     http.StatusInternalServerError,
}

// retryableKinds marks the failure kinds where the same request, retried
// unchanged, might succeed: a storage hiccup or rate-limit backpressure.
// Validation, auth, lookup and conflict failures are deterministic on the
// same input and retrying wastes a call. KindDispatch is excluded too --
// by the time a dispatch failure is reported, the webhook sender has
// already exhausted its own retry/backoff schedule.
var retryableKinds = map[Kind]bool{
	KindStorage:     true,
	KindRateLimited: true,
}

type classifiedError struct {
	kind  Kind
	code  string
	hint  string
	cause error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return e.code
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error { return e.cause }

func (e *classifiedError) Kind() Kind      { return e.kind }
func (e *classifiedError) Code() string    { return e.code }
func (e *classifiedError) Hint() string    { return e.hint }
func (e *classifiedError) Retryable() bool { return retryableKinds[e.kind] }

// New builds a classified error from scratch (no underlying cause).
func New(kind Kind, code, hint string) error {
	return &classifiedError{kind: kind, code: code, hint: hint, cause: errors.New(code)}
}

// Wrap attaches classification to an existing error. Returns nil if cause is nil.
func Wrap(cause error, kind Kind, code, hint string) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{kind: kind, code: code, hint: hint, cause: cause}
}

// KindOf extracts the Kind from err, or "" if err carries no classification.
func KindOf(err error) Kind {
	var c *classifiedError
	if errors.As(err, &c) {
		return c.kind
	}
	return ""
}

// CodeOf extracts the stable machine-readable code from err.
func CodeOf(err error) string {
	var c *classifiedError
	if errors.As(err, &c) {
		return c.code
	}
	return ""
}

// HintOf extracts the human-readable hint from err.
func HintOf(err error) string {
	var c *classifiedError
	if errors.As(err, &c) {
		return c.hint
	}
	return ""
}

// RetryableOf reports whether err is a classified error whose kind is
// safe to retry unchanged. Unclassified errors are not retryable.
func RetryableOf(err error) bool {
	var c *classifiedError
	if errors.As(err, &c) {
		return retryableKinds[c.kind]
	}
	return false
}

// HTTPStatus maps a classified error to the status code the HTTP adapter
// should respond with. Unclassified errors map to 500.
func HTTPStatus(err error) int {
	k := KindOf(err)
	if status, ok := statusByKind[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// IsKind reports whether err carries classification kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
