package provision

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown or already consumed session ids.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidInput is returned for malformed provisioning requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProvision is the kind of every failed linking attempt.
	ErrProvision = errors.New("provisioning failed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// ProvisionError reports a failed linking attempt. Callers may retry with a new session.
type ProvisionError struct {
	Op        string
	SessionID string
	Reason    string
	Err       error
}

func (e *ProvisionError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, ErrProvision)
	if e.SessionID != "" {
		msg += ": session " + e.SessionID
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProvisionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProvision}
	}
	return []error{ErrProvision, e.Err}
}

func notFound(sessionID string) error {
	return fmt.Errorf("provision: %w: %s", ErrNotFound, sessionID)
}

func invalidInput(msg string) error {
	return fmt.Errorf("provision: %w: %s", ErrInvalidInput, msg)
}
