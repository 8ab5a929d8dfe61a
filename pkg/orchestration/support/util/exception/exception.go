// Package exception provides custom error types and error handling utilities
// for the Factweave orchestration layer. It standardizes errors raised inside
// durable workflows so retry policies and circuit breaking can classify them.
package exception

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrCircuitOpen is the sentinel error returned by a circuit breaker while it
// is open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrSignalTimeout is the sentinel error returned when waiting for a workflow
// signal exceeds the configured timeout.
var ErrSignalTimeout = errors.New("timed out waiting for signal")

// ErrPoolCapacityExceeded is returned when a requested admission weight can
// never be satisfied by the pool's total capacity.
var ErrPoolCapacityExceeded = errors.New("requested weight exceeds pool capacity")

// OrchestrationError is a custom error type raised during workflow execution.
// It records the component where the error occurred, a message, the wrapped
// original error, and whether the error is retryable by the durable runtime.
type OrchestrationError struct {
	// Component indicates where the error occurred (e.g., "batch_processor", "population", "scan").
	Component string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// isRetryable indicates whether the durable runtime may transparently retry the step.
	isRetryable bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewOrchestrationError creates a new OrchestrationError instance.
func NewOrchestrationError(component, message string, originalErr error, isRetryable bool) *OrchestrationError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &OrchestrationError{
		Component:   component,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		StackTrace:  string(buf[:n]),
	}
}

// NewOrchestrationErrorf creates a retryable=false OrchestrationError with a
// formatted message. An error passed as the final argument is unwrapped out of
// the format arguments and recorded as the original cause.
func NewOrchestrationErrorf(component, format string, a ...interface{}) *OrchestrationError {
	var originalErr error
	args := a
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	return NewOrchestrationError(component, fmt.Sprintf(format, args...), originalErr, false)
}

// Error implements the error interface.
func (e *OrchestrationError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Component, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Component, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *OrchestrationError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *OrchestrationError) IsRetryable() bool {
	return e.isRetryable
}

// IsTemporary determines if an error looks transient (network hiccup, lock
// contention, timeout). The retry loop in the durable runtime consults this
// when an error carries no explicit classification.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var oe *OrchestrationError
	if errors.As(err, &oe) {
		return oe.IsRetryable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "deadlock") ||
		strings.Contains(errStr, "lock wait")
}

// IsCircuitOpen determines if an error was caused by an open circuit breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// ExtractErrorMessage extracts a message string from an error.
// For OrchestrationError, it returns the cleaner Message field.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var oe *OrchestrationError
	if errors.As(err, &oe) {
		return oe.Message
	}
	return err.Error()
}
