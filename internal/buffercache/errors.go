// ABOUTME: Error types for buffer loading
// ABOUTME: LoadError marks a failed fetch or decode, PartialLoadError a still-pending handle
package buffercache

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by Load after Close
var ErrClosed = errors.New("buffer cache closed")

// LoadError is returned when a stem's audio could not be fetched or decoded.
// The cache is not populated and a later Load retries.
type LoadError struct {
	StemID string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load stem %q: %v", e.StemID, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// PartialLoadError accompanies a handle whose load did not finish within the load timeout.
// It is not a failure: the handle's Done channel closes when the load resolves.
type PartialLoadError struct {
	StemID string
	Waited time.Duration
}

func (e *PartialLoadError) Error() string {
	return fmt.Sprintf("stem %q still loading after %v", e.StemID, e.Waited)
}
