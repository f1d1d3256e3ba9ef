package domain

import "errors"

// Domain errors
var (
	ErrInvalidTimerID = errors.New("invalid timer id")
	ErrNotRunning     = errors.New("timer not running for player")
	ErrNoBestTime     = errors.New("no best time recorded")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalError  = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a negative-result type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotRunning) || errors.Is(err, ErrNoBestTime)
}
