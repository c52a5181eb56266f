package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("WS-TEST-1000", "test message"),
			expected: "[WS-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("WS-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[WS-TEST-1001] test message: extra info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("WS-TEST-1000", "message 1")
	err2 := NewDomainError("WS-TEST-1000", "message 2")
	err3 := NewDomainError("WS-TEST-1001", "message 1")

	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}
}

func TestDomainError_WithCause(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	err := ErrImageInvalid.WithCause(cause)

	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), cause)
	}
	if ErrImageInvalid.Cause != nil {
		t.Error("WithCause should not modify the sentinel")
	}
	if !errors.Is(fmt.Errorf("wrapped: %w", err), ErrImageInvalid) {
		t.Error("wrapped error should match sentinel by code")
	}
}

func TestIsDomainError(t *testing.T) {
	wrapped := fmt.Errorf("ctx: %w", ErrCheckpointInProgress)

	if !IsDomainError(wrapped, "") {
		t.Error("IsDomainError(wrapped, \"\") = false, want true")
	}
	if !IsDomainError(wrapped, "WS-CKPT-4090") {
		t.Error("IsDomainError should match code")
	}
	if IsDomainError(wrapped, "WS-CKPT-4091") {
		t.Error("IsDomainError should not match a different code")
	}
	if got := GetErrorCode(wrapped); got != "WS-CKPT-4090" {
		t.Errorf("GetErrorCode() = %q", got)
	}
	if got := GetErrorCode(errors.New("plain")); got != "" {
		t.Errorf("GetErrorCode(plain) = %q, want empty", got)
	}
}
