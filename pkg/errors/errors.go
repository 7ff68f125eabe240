// Package errors holds the sentinel errors shared across umrum packages and
// their mapping onto HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrHostExists       = errors.New("host already registered")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Unavailable wraps a backing-store failure during op so that it matches
// both ErrStoreUnavailable and the original error. A nil err stays nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// HTTPStatusCode maps err onto the status a handler should answer with.
func HTTPStatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrHostExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
