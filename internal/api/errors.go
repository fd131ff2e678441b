package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Transport error taxonomy. Every error returned by Client wraps exactly one of these.
var (
	ErrConflict         = errors.New("conflict")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrTransient        = errors.New("transient failure")
)

// StatusError carries the HTTP status and the server's error text.
type StatusError struct {
	Op      string
	Status  int
	Message string
	kind    error
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %d %s: %s", e.Op, e.Status, http.StatusText(e.Status), e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.Status, http.StatusText(e.Status))
}

func (e *StatusError) Unwrap() error { return e.kind }

func kindForStatus(status int) error {
	switch status {
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrPermissionDenied
	case http.StatusNotFound, http.StatusGone:
		return ErrNotFound
	default:
		return ErrTransient
	}
}

// IsRetryable reports errors the user may retry by hand (never retried automatically).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
