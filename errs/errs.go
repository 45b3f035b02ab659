// Package errs defines the error taxonomy shared across the matching
// engine's components. Every error kind shares the *Error type and is told
// apart by its Kind field, so callers can branch with errors.As or Is
// instead of string-matching messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies which taxonomy bucket an error belongs to.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindTransientSource  Kind = "transient_source"
	KindRateLimited      Kind = "rate_limited"
	KindQuotaExhausted   Kind = "quota_exhausted"
	KindParse            Kind = "parse"
	KindLLMUnavailable   Kind = "llm_unavailable"
	KindStore            Kind = "store"
	KindCancelled        Kind = "cancelled"
)

// Error is the common shape for every taxonomy member: a kind, a
// human-readable message, whether retrying makes sense, and the
// underlying cause if any.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new_(kind Kind, component, message string, retryable bool, cause error) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Retryable: retryable, Cause: cause}
}

// Validation wraps caller-provided input errors. Never retryable.
func Validation(component, message string) *Error {
	return new_(KindValidation, component, message, false, nil)
}

// TransientSource wraps network/5xx adapter failures. Retryable within the component.
func TransientSource(component string, cause error) *Error {
	return new_(KindTransientSource, component, "transient source error", true, cause)
}

// RateLimited signals a 429 or quota-remaining=0 result from an adapter.
func RateLimited(component string) *Error {
	return new_(KindRateLimited, component, "rate limited", false, nil)
}

// QuotaExhausted signals a monthly budget fully consumed.
func QuotaExhausted(component string) *Error {
	return new_(KindQuotaExhausted, component, "quota exhausted", false, nil)
}

// Parse wraps an unparseable upstream response. Item is dropped, run continues.
func Parse(component string, cause error) *Error {
	return new_(KindParse, component, "parse error", false, cause)
}

// LLMUnavailable signals the analyzer failed after its repair pass.
func LLMUnavailable(component string, cause error) *Error {
	return new_(KindLLMUnavailable, component, "llm unavailable", false, cause)
}

// Store wraps a database failure. Fatal to an in-flight matching run.
func Store(component string, cause error) *Error {
	return new_(KindStore, component, "store error", true, cause)
}

// Cancelled marks a cooperative cancellation, distinct from a failure.
var Cancelled = new_(KindCancelled, "matching", "cancelled", false, nil)

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
