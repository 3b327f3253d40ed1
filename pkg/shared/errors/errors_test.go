package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestOperationError(t *testing.T) {
	tests := []struct {
		name     string
		err      *OperationError
		expected string
	}{
		{
			name: "full error",
			err: &OperationError{
				Operation: "connect to model provider",
				Component: "llm",
				Resource:  "anthropic",
				Cause:     fmt.Errorf("connection timeout"),
			},
			expected: "failed to connect to model provider, component: llm, resource: anthropic, cause: connection timeout",
		},
		{
			name: "minimal error",
			err: &OperationError{
				Operation: "parse config",
				Cause:     fmt.Errorf("invalid yaml"),
			},
			expected: "failed to parse config, cause: invalid yaml",
		},
		{
			name: "no cause",
			err: &OperationError{
				Operation: "validate input",
				Component: "validator",
			},
			expected: "failed to validate input, component: validator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("OperationError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestOperationError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := &OperationError{Operation: "test", Cause: cause}

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("OperationError.Unwrap() = %v, want %v", unwrapped, cause)
	}

	errNoCause := &OperationError{Operation: "test"}
	if unwrapped := errNoCause.Unwrap(); unwrapped != nil {
		t.Errorf("OperationError.Unwrap() with no cause = %v, want nil", unwrapped)
	}
}

func TestFailedTo(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		cause    error
		expected string
	}{
		{"with cause", "enqueue email", fmt.Errorf("queue full"), "failed to enqueue email, cause: queue full"},
		{"without cause", "start orchestrator", nil, "failed to start orchestrator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FailedTo(tt.action, tt.cause)
			if err.Error() != tt.expected {
				t.Errorf("FailedTo() = %q, want %q", err.Error(), tt.expected)
			}
		})
	}
}

func TestFailedToWithDetails(t *testing.T) {
	cause := fmt.Errorf("timeout")
	err := FailedToWithDetails("analyze email", "phase2", "email-123", cause)

	opErr, ok := err.(*OperationError)
	if !ok {
		t.Fatalf("FailedToWithDetails() should return *OperationError, got %T", err)
	}
	if opErr.Operation != "analyze email" {
		t.Errorf("Operation = %q, want %q", opErr.Operation, "analyze email")
	}
	if opErr.Component != "phase2" {
		t.Errorf("Component = %q, want %q", opErr.Component, "phase2")
	}
	if opErr.Resource != "email-123" {
		t.Errorf("Resource = %q, want %q", opErr.Resource, "email-123")
	}
	if opErr.Cause != cause {
		t.Errorf("Cause = %v, want %v", opErr.Cause, cause)
	}
}

func TestWrapf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		format   string
		args     []interface{}
		expected string
	}{
		{"wrap with message", fmt.Errorf("original error"), "additional context: %s", []interface{}{"test"}, "additional context: test: original error"},
		{"nil error", nil, "should not wrap", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Wrapf(tt.err, tt.format, tt.args...)
			if tt.err == nil {
				if result != nil {
					t.Errorf("Wrapf(nil, ...) = %v, want nil", result)
				}
				return
			}
			if result.Error() != tt.expected {
				t.Errorf("Wrapf() = %q, want %q", result.Error(), tt.expected)
			}
		})
	}
}

func TestDatabaseError(t *testing.T) {
	cause := fmt.Errorf("connection lost")
	err := DatabaseError("upsert task", cause)

	if !strings.Contains(err.Error(), "failed to upsert task") {
		t.Errorf("DatabaseError should contain operation, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "database") {
		t.Errorf("DatabaseError should contain component, got %q", err.Error())
	}
}

func TestNetworkError(t *testing.T) {
	cause := fmt.Errorf("timeout")
	err := NetworkError("generate", "https://api.anthropic.com", cause)

	if !strings.Contains(err.Error(), "failed to generate") {
		t.Errorf("NetworkError should contain operation, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "network") {
		t.Errorf("NetworkError should contain component, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "https://api.anthropic.com") {
		t.Errorf("NetworkError should contain endpoint, got %q", err.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("sender_email", "invalid format")
	expected := "validation failed for field sender_email: invalid format"
	if err.Error() != expected {
		t.Errorf("ValidationError() = %q, want %q", err.Error(), expected)
	}
}

func TestConfigurationError(t *testing.T) {
	err := ConfigurationError("sla.policy_hours.critical", "value is required")
	expected := "configuration error for setting sla.policy_hours.critical: value is required"
	if err.Error() != expected {
		t.Errorf("ConfigurationError() = %q, want %q", err.Error(), expected)
	}
}

func TestTimeoutError(t *testing.T) {
	err := TimeoutError("waiting for phase-3 response", "180s")
	expected := "timeout while waiting for phase-3 response after 180s"
	if err.Error() != expected {
		t.Errorf("TimeoutError() = %q, want %q", err.Error(), expected)
	}
}

func TestAuthenticationError(t *testing.T) {
	err := AuthenticationError("invalid api key")
	expected := "authentication failed: invalid api key"
	if err.Error() != expected {
		t.Errorf("AuthenticationError() = %q, want %q", err.Error(), expected)
	}
}

func TestAuthorizationError(t *testing.T) {
	err := AuthorizationError("delete", "workflow task")
	expected := "authorization failed: insufficient permissions to delete workflow task"
	if err.Error() != expected {
		t.Errorf("AuthorizationError() = %q, want %q", err.Error(), expected)
	}
}

func TestParseError(t *testing.T) {
	cause := fmt.Errorf("unexpected character")
	err := ParseError("phase-2 model output", "JSON", cause)
	if !strings.Contains(err.Error(), "parse phase-2 model output as JSON") {
		t.Errorf("ParseError should contain parse operation, got %q", err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"timeout error", fmt.Errorf("request timeout"), true},
		{"connection refused", fmt.Errorf("connection refused by server"), true},
		{"service unavailable", fmt.Errorf("service unavailable"), true},
		{"too many requests", fmt.Errorf("429 too many requests"), true},
		{"permanent error", fmt.Errorf("invalid syntax"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestChain(t *testing.T) {
	tests := []struct {
		name     string
		errors   []error
		expected string
		isNil    bool
	}{
		{"no errors", []error{nil, nil}, "", true},
		{"single error", []error{fmt.Errorf("single error"), nil}, "single error", false},
		{"multiple errors", []error{fmt.Errorf("error 1"), fmt.Errorf("error 2"), nil, fmt.Errorf("error 3")}, "multiple errors: error 1; error 2; error 3", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Chain(tt.errors...)
			if tt.isNil {
				if result != nil {
					t.Errorf("Chain() = %v, want nil", result)
				}
				return
			}
			if result.Error() != tt.expected {
				t.Errorf("Chain() = %q, want %q", result.Error(), tt.expected)
			}
		})
	}
}
