package service

import "errors"

// Command-layer rule violations
var (
	ErrNotCrewMember       = errors.New("not a member of this crew")
	ErrAlreadyCrewMember   = errors.New("already a member of this crew")
	ErrNotCaptain          = errors.New("only the crew captain can do that")
	ErrCaptainMustTransfer = errors.New("captain must transfer captaincy before leaving a crew with other members")
	ErrIncorrectPassword   = errors.New("incorrect password")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrNoActiveSession     = errors.New("no active session")
	ErrNoActiveCrewSession = errors.New("crew has no active session")
)
