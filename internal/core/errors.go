package core

import "errors"

var (
	// ErrResolution is fatal to initialization and never retried automatically.
	ErrResolution = errors.New("room resolution failed")
	// ErrFetch is a best-effort audience fetch failure.
	ErrFetch = errors.New("fans fetch failed")

	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)
