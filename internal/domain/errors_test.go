package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   string
		requestID string
	}{
		{
			name:      "Basic error",
			code:      ErrInvalidInput,
			message:   "Invalid medication name",
			details:   "The provided name contains disallowed characters",
			requestID: "req-123",
		},
		{
			name:      "Upstream error",
			code:      ErrExternalAPI,
			message:   "Registry unavailable",
			details:   "openFDA returned status 503",
			requestID: "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAPIError(tt.code, tt.message, tt.details, tt.requestID)

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}
			if err.Message != tt.message {
				t.Errorf("Expected message %s, got %s", tt.message, err.Message)
			}
			if err.Details != tt.details {
				t.Errorf("Expected details %s, got %s", tt.details, err.Details)
			}
			if err.RequestID != tt.requestID {
				t.Errorf("Expected requestID %s, got %s", tt.requestID, err.RequestID)
			}
			if time.Since(err.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
			}

			expectedError := tt.code + ": " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("medicationName", "must not be empty", "")

	expected := "validation error for field 'medicationName': must not be empty"
	if err.Error() != expected {
		t.Errorf("Expected %s, got %s", expected, err.Error())
	}

	wrapped := fmt.Errorf("analysis rejected: %w", err)
	if !IsValidationError(wrapped) {
		t.Error("Expected wrapped error to be detected as validation error")
	}
	if IsValidationError(errors.New("plain")) {
		t.Error("Plain error must not be a validation error")
	}
}

func TestUpstreamError(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name     string
		err      *UpstreamError
		expected string
	}{
		{"status", &UpstreamError{Source: "openFDA", StatusCode: 503}, "openFDA returned status 503"},
		{"timeout", &UpstreamError{Source: "RxNav", Timeout: true, Err: cause}, "RxNav timed out: connection refused"},
		{"transport", &UpstreamError{Source: "RxNav", Err: cause}, "RxNav request failed: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, tt.err.Error())
			}
		})
	}

	var ue *UpstreamError
	if !errors.As(fmt.Errorf("lookup: %w", &UpstreamError{Source: "x", Err: cause}), &ue) {
		t.Error("Expected errors.As to find UpstreamError")
	}
	if !errors.Is(&UpstreamError{Source: "x", Err: cause}, cause) {
		t.Error("Expected UpstreamError to unwrap to its cause")
	}
}

func TestParseError(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := &ParseError{Reason: "invalid JSON", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("Expected ParseError to unwrap to its cause")
	}
	if (&ParseError{Reason: "no JSON object"}).Error() != "parse error: no JSON object" {
		t.Error("Unexpected message for ParseError without cause")
	}
}
