package interview

import (
	"errors"

	"InterviewPrep/internal/session"
)

var (
	// ErrSessionNotFound is returned for unknown or cleaned-up session tokens
	ErrSessionNotFound = session.ErrNotFound
	// ErrSessionCompleted is returned when a turn is submitted to a finished interview
	ErrSessionCompleted = errors.New("interview session already completed")
	// ErrAlreadyStarted is returned when start is called on a session that already has an opening message
	ErrAlreadyStarted = errors.New("interview already started")
	// ErrInvalidRequest covers malformed session parameters and empty replies
	ErrInvalidRequest = errors.New("invalid interview request")
)
