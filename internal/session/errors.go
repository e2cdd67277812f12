package session

import "errors"

var (
	// ErrAlreadyStarted is returned by Start on a session that was started before.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrStopped is returned by Start on a session that was already stopped.
	ErrStopped = errors.New("session already stopped")
)
