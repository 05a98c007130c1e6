package session

import "errors"

var (
	// ErrNotFound means the referenced session or connection row is absent.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized means the caller does not own the referenced entity.
	ErrUnauthorized = errors.New("not authorized")

	// ErrNotActive means the session row is closed, or says active but no
	// live session exists in this process (e.g. after a restart).
	ErrNotActive = errors.New("session not active")
)
