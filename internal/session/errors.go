// ABOUTME: Session error types
// ABOUTME: Connectivity loss and lifecycle misuse
package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotInSession     = errors.New("not in a session")
	ErrAlreadyInSession = errors.New("already in a session")
	ErrJoinTimeout      = errors.New("timed out waiting for join confirmation")
	ErrUnknownStem      = errors.New("stem not in catalog")
)

// ConnectivityError means the channel was lost. The session is inactive until rejoined.
type ConnectivityError struct {
	SessionCode string
	Err         error
}

func (e *ConnectivityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("session %s: channel closed", e.SessionCode)
	}
	return fmt.Sprintf("session %s: channel lost: %v", e.SessionCode, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}
