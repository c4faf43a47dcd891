// ABOUTME: Error types for session lifecycle and message sending
// ABOUTME: Each wraps its cause so errors.As/Is reach the transport error

package session

import (
	"fmt"

	"github.com/2389/fold-whatsapp/internal/waha"
)

// ValidationError reports a missing required argument.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// SessionCreateError reports that the session could not be created or reused.
type SessionCreateError struct {
	Name string
	Err  error
}

func (e *SessionCreateError) Error() string {
	return fmt.Sprintf("creating session %q: %v", e.Name, e.Err)
}

func (e *SessionCreateError) Unwrap() error { return e.Err }

// SessionFailedError reports that WAHA moved the session to FAILED.
type SessionFailedError struct {
	Name   string
	Status waha.Status
}

func (e *SessionFailedError) Error() string {
	return fmt.Sprintf("session %q entered status %s", e.Name, e.Status)
}

// SessionTimeoutError reports that the target status was not reached within
// the attempt budget.
type SessionTimeoutError struct {
	Name       string
	Target     waha.Status
	Attempts   int
	LastStatus waha.Status
	LastErr    error
}

func (e *SessionTimeoutError) Error() string {
	msg := fmt.Sprintf("session %q did not reach %s after %d attempts", e.Name, e.Target, e.Attempts)
	if e.LastStatus != "" {
		msg += fmt.Sprintf(" (last status %s)", e.LastStatus)
	}
	if e.LastErr != nil {
		msg += fmt.Sprintf(": %v", e.LastErr)
	}
	return msg
}

func (e *SessionTimeoutError) Unwrap() error { return e.LastErr }

// SendError reports a failed message delivery.
type SendError struct {
	ChatID string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending message to %s: %v", e.ChatID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
