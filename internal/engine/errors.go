// ABOUTME: Engine error types
// ABOUTME: InitializationError is fatal to the session; the rest are misuse of the graph
package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when audio is scheduled before EnsureInitialized
	ErrNotInitialized = errors.New("audio engine not initialized")

	// ErrTornDown is returned by every mutation after Teardown
	ErrTornDown = errors.New("audio engine torn down")

	// ErrNoPlayer is returned when a slot has no live player
	ErrNoPlayer = errors.New("no player for slot")
)

// InitializationError reports that the audio device could not be activated.
// It is fatal to the session and never retried automatically.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("audio initialization failed: %v", e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}
