package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionEnded is returned when writing to a session that was ended
	// or expired.
	ErrSessionEnded = errors.New("session has ended")
	// ErrSessionExists is returned when a session ID is already taken.
	ErrSessionExists = errors.New("session already exists")
)

// ValidationError reports missing or malformed input. Nothing is written when
// it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TeardownError reports that a session's messages could not be removed.
type TeardownError struct {
	SessionID string
	Err       error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown of session %s failed: %v", e.SessionID, e.Err)
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}
