package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrInvalidSession  = errors.New("invalid session")
)

// SessionError carries the session id alongside one of the session sentinels.
type SessionError struct {
	ID  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.ID)
}

func (e *SessionError) Unwrap() error { return e.Err }

func SessionNotFound(id string) error {
	return &SessionError{ID: id, Err: ErrSessionNotFound}
}

func SessionExpired(id string) error {
	return &SessionError{ID: id, Err: ErrSessionExpired}
}
