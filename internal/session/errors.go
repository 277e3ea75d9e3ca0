package session

import "errors"

// Sentinel errors for session operations; check with errors.Is().
var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSessionID indicates the supplied id is not a valid UUID.
	ErrInvalidSessionID = errors.New("invalid session id")
)
