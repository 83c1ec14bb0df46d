package repository

import "errors"

// Domain errors. Callers turn these into user-facing messages.
var (
	ErrActiveSessionExists  = errors.New("an active session already exists")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyClosed = errors.New("session is already closed")
	ErrSessionClosed        = errors.New("session is closed")
	ErrNotCrewSession       = errors.New("not a crew session")
	ErrDuplicateCrewName    = errors.New("a crew with that name already exists")
	ErrCrewNotFound         = errors.New("crew not found")
)
