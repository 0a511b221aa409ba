// Package apperr defines the closed set of error kinds the service
// surfaces across its boundaries, and the HTTP status each maps to.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	InvalidCoordinate      Kind = "invalid_coordinate"
	InvalidPagination      Kind = "invalid_pagination"
	NotFound               Kind = "not_found"
	UpstreamDocStoreTimeout Kind = "upstream_docstore_timeout"
	UpstreamDocStoreFailure Kind = "upstream_docstore_failure"
	UpstreamKvTimeout      Kind = "upstream_kv_timeout"
	UpstreamKvFailure      Kind = "upstream_kv_failure"
	RateLimited            Kind = "rate_limited"
	Internal               Kind = "internal"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal for
// errors that were never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// HTTPStatus maps a Kind to the status code from spec section 6.
func HTTPStatus(k Kind) int {
	switch k {
	case InvalidCoordinate, InvalidPagination:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case RateLimited:
		return http.StatusTooManyRequests
	case UpstreamDocStoreTimeout, UpstreamKvTimeout:
		return http.StatusServiceUnavailable
	case UpstreamDocStoreFailure, UpstreamKvFailure, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
