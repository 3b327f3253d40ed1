// Package errors provides structured operation errors shared across the
// pipeline so logs and retry logic can reason about failures uniformly.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// OperationError describes a failed operation with optional component and
// resource context, matching the log fields pipeline workers attach to
// every failure.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString("failed to ")
	b.WriteString(e.Operation)
	if e.Component != "" {
		b.WriteString(", component: ")
		b.WriteString(e.Component)
	}
	if e.Resource != "" {
		b.WriteString(", resource: ")
		b.WriteString(e.Resource)
	}
	if e.Cause != nil {
		b.WriteString(", cause: ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedTo builds a minimal OperationError from an action and its cause.
func FailedTo(action string, cause error) error {
	return &OperationError{Operation: action, Cause: cause}
}

// FailedToWithDetails builds an OperationError carrying component/resource context.
func FailedToWithDetails(action, component, resource string, cause error) error {
	return &OperationError{Operation: action, Component: component, Resource: resource, Cause: cause}
}

// Wrapf adds formatted context ahead of an existing error, returning nil if
// err is nil (mirrors fmt.Errorf("%w") but without the sentinel-chain
// requirement when callers just want human-readable context).
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", msg, err)
}

// DatabaseError wraps a persistence-layer failure.
func DatabaseError(operation string, cause error) error {
	return FailedToWithDetails(operation, "database", "", cause)
}

// NetworkError wraps a transport failure against a named endpoint.
func NetworkError(operation, endpoint string, cause error) error {
	return FailedToWithDetails(operation, "network", endpoint, cause)
}

// ValidationError reports a boundary validation failure for a single field.
func ValidationError(field, reason string) error {
	return fmt.Errorf("validation failed for field %s: %s", field, reason)
}

// ConfigurationError reports an invalid configuration setting.
func ConfigurationError(setting, reason string) error {
	return fmt.Errorf("configuration error for setting %s: %s", setting, reason)
}

// TimeoutError reports a deadline exceeded while performing an operation.
func TimeoutError(operation, after string) error {
	return fmt.Errorf("timeout while %s after %s", operation, after)
}

// AuthenticationError reports a failed authentication attempt.
func AuthenticationError(reason string) error {
	return fmt.Errorf("authentication failed: %s", reason)
}

// AuthorizationError reports an authorization denial for an action on a resource.
func AuthorizationError(action, resource string) error {
	return fmt.Errorf("authorization failed: insufficient permissions to %s %s", action, resource)
}

// ParseError reports a failure to parse a resource as a given format.
func ParseError(resource, format string, cause error) error {
	return Wrapf(cause, "failed to parse %s as %s", resource, format)
}

// retryableSubstrings are substrings of transient errors seen from model
// providers, ingest sources, and the persistence layer. Kept conservative:
// only patterns that are unambiguously transient are included.
var retryableSubstrings = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"service unavailable",
	"temporarily unavailable",
	"too many requests",
	"deadline exceeded",
	"broken pipe",
	"eof",
}

// IsRetryable reports whether err looks like a transient failure worth
// retrying with backoff, versus a permanent one (validation, invariant
// violation) that must not be retried. A NetworkError anywhere in err's
// wrap chain counts as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for e := err; e != nil; e = stderrors.Unwrap(e) {
		if op, ok := e.(*OperationError); ok && op.Component == "network" {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Chain joins multiple non-nil errors into one, dropping nils. Returns nil
// if every argument is nil, and the single error unwrapped if only one is
// non-nil.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		msgs := make([]string, len(nonNil))
		for i, e := range nonNil {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("multiple errors: %s", strings.Join(msgs, "; "))
	}
}
