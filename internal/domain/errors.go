package domain

import "errors"

var (
	// ErrInvalidRequest maps to HTTP 400.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrForbidden maps to HTTP 403.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound maps to HTTP 404.
	ErrNotFound = errors.New("not found")
)
