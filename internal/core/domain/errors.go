// Package domain defines the core checkpoint/restore domain model.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain error with a structured error code.
// Codes follow the WS-<AREA>-<NNNN> format.
//
// @design DS-0104
type DomainError struct {
	Code    string // Error code (e.g., "WS-CKPT-4090")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison by code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Checkpoint Errors (CKPT)
// ============================================================================

var (
	// ErrCheckpointInProgress indicates a checkpoint was requested while another
	// attempt is outstanding or has already been made in this run.
	ErrCheckpointInProgress = NewDomainError("WS-CKPT-4090", "checkpoint already requested")

	// ErrPhasePassed indicates the requested phase is no longer reachable.
	ErrPhasePassed = NewDomainError("WS-CKPT-4091", "checkpoint phase already passed")

	// ErrCheckpointDisabled indicates checkpoint support is disabled by configuration.
	ErrCheckpointDisabled = NewDomainError("WS-CKPT-4030", "checkpoint disabled")

	// ErrUnsupportedPlatform indicates the platform has no snapshot support.
	ErrUnsupportedPlatform = NewDomainError("WS-CKPT-5010", "checkpoint unsupported on this platform")

	// ErrRequestConsumed indicates a CheckpointRequest was used twice.
	ErrRequestConsumed = NewDomainError("WS-CKPT-4092", "checkpoint request already consumed")
)

// ============================================================================
// Restore Errors (RSTR)
// ============================================================================

var (
	// ErrNotCheckpointed indicates a restore was requested without a checkpoint.
	ErrNotCheckpointed = NewDomainError("WS-RSTR-4090", "no checkpoint to restore")

	// ErrImageInvalid indicates the snapshot image is missing or corrupt.
	ErrImageInvalid = NewDomainError("WS-RSTR-4220", "snapshot image invalid")

	// ErrImageStale indicates the image was taken with different non-reconcilable inputs.
	ErrImageStale = NewDomainError("WS-RSTR-4221", "snapshot image stale")
)

// ============================================================================
// State Errors (STAT)
// ============================================================================

var (
	// ErrIllegalTransition indicates a state machine transition that is not allowed.
	ErrIllegalTransition = NewDomainError("WS-STAT-4090", "illegal state transition")
)

// ============================================================================
// Hook Errors (HOOK)
// ============================================================================

var (
	// ErrInvalidHook indicates a hook registration with missing or inconsistent fields.
	ErrInvalidHook = NewDomainError("WS-HOOK-4000", "invalid hook")

	// ErrDuplicateHook indicates a hook name already registered for the same timing.
	ErrDuplicateHook = NewDomainError("WS-HOOK-4090", "hook already registered")
)
