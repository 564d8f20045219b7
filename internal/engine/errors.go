package engine

import "errors"

var (
	// ErrControlNotFound is returned for unknown, deleted, or foreign controls
	ErrControlNotFound = errors.New("control not found")
	// ErrStoreUnavailable wraps transient store failures; the next tick retries
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidState is returned when a paused or error control is commanded
	ErrInvalidState = errors.New("control state does not allow this command")
)
