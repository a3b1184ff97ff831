package protocol

import (
	"context"
	"errors"
	"fmt"
)

// CapabilityError is raised by capabilities and tells the orchestrator whether retrying
// could help.
type CapabilityError struct {
	Capability string
	Transient  bool
	Err        error
}

func (e *CapabilityError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}

	if e.Capability == "" {
		return fmt.Sprintf("%s capability error: %v", kind, e.Err)
	}

	return fmt.Sprintf("%s error in capability %s: %v", kind, e.Capability, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable capability failure.
func Transient(err error) error {
	return &CapabilityError{Transient: true, Err: err}
}

// Permanent wraps err as a capability failure that must not be retried.
func Permanent(err error) error {
	return &CapabilityError{Transient: false, Err: err}
}

// IsTransient reports whether err is worth retrying. Timeouts count as transient;
// unclassified errors do not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var capErr *CapabilityError
	if errors.As(err, &capErr) {
		return capErr.Transient
	}

	return errors.Is(err, context.DeadlineExceeded)
}
