// ABOUTME: Protocol error type and session code validation
// ABOUTME: Malformed or unknown messages surface as ProtocolError
package protocol

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// SessionCodeLength is the exact length of a session code
const SessionCodeLength = 4

// ProtocolError reports a message or input that does not fit the protocol
type ProtocolError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "protocol error"
	if e.Kind != "" {
		msg += " (" + string(e.Kind) + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ErrInvalidSessionCode is returned for codes that are not exactly four characters
var ErrInvalidSessionCode = &ProtocolError{Reason: "session code must be exactly 4 characters"}

// NormalizeSessionCode trims and upper-cases code, rejecting any other length
func NormalizeSessionCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if utf8.RuneCountInString(code) != SessionCodeLength {
		return "", fmt.Errorf("%w: got %q", ErrInvalidSessionCode, code)
	}
	return code, nil
}
