// Package errors provides standardized error handling for editorbridge
// components. It classifies every in-flight failure into one of the bridge
// error kinds so callers can distinguish "retry now" (reset), "retry later"
// (unavailable), and "give up" (timeout) without string matching.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies bridge errors for handling purposes.
type Kind int

const (
	// KindUnavailable represents transient peer unavailability, recoverable
	// by buffering and retrying up to the buffer deadline.
	KindUnavailable Kind = iota
	// KindTimeout represents an in-flight operation that exceeded its
	// deadline. Not retried automatically.
	KindTimeout
	// KindProtocol represents a malformed or unrecognized inbound message.
	// Logged and dropped, never crashes the engine.
	KindProtocol
	// KindReset represents a pending operation superseded by a new peer
	// connection. Surfaced distinctly from a timeout so callers can retry
	// immediately.
	KindReset
	// KindFatal represents unrecoverable startup failures, e.g. the
	// listening port already bound. The only kind allowed to abort startup.
	KindFatal
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	case KindReset:
		return "reset"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Session and connection errors
	ErrPeerUnavailable = errors.New("peer not connected")
	ErrSessionReset    = errors.New("session reset by new peer connection")
	ErrSendFailed      = errors.New("transport write failed")

	// Request lifecycle errors
	ErrRequestTimeout = errors.New("request timed out")
	ErrBufferTimeout  = errors.New("peer never connected within buffer window")
	ErrExecutionBusy  = errors.New("an execution is already outstanding")

	// Protocol errors
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownType      = errors.New("unknown message type")

	// Lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("server shutting down")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// BridgeError wraps an error with its classification and the operation it
// belongs to. Elapsed is populated for timeout errors so callers see how
// long the operation ran before the deadline fired.
type BridgeError struct {
	Kind      Kind
	Err       error
	Message   string
	Component string
	Operation string
	Elapsed   time.Duration
}

// Error implements the error interface.
func (be *BridgeError) Error() string {
	if be.Message != "" {
		return be.Message
	}
	return be.Err.Error()
}

// Unwrap returns the underlying error.
func (be *BridgeError) Unwrap() error {
	return be.Err
}

// IsTimeout reports whether an error is a deadline failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind == KindTimeout
	}
	return errors.Is(err, ErrRequestTimeout) ||
		errors.Is(err, ErrBufferTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsReset reports whether an error came from a session replacement.
func IsReset(err error) bool {
	if err == nil {
		return false
	}
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind == KindReset
	}
	return errors.Is(err, ErrSessionReset)
}

// IsUnavailable reports whether an error is transient peer unavailability.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind == KindUnavailable
	}
	return errors.Is(err, ErrPeerUnavailable) || errors.Is(err, ErrShuttingDown)
}

// IsFatal reports whether an error should abort startup.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind == KindFatal
	}
	if errors.Is(err, ErrInvalidConfig) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"address already in use", "permission denied", "invalid config"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// Classify returns the error kind for an error.
func Classify(err error) Kind {
	if err == nil {
		return KindUnavailable
	}
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind
	}
	switch {
	case IsTimeout(err):
		return KindTimeout
	case IsReset(err):
		return KindReset
	case IsFatal(err):
		return KindFatal
	case errors.Is(err, ErrMalformedMessage), errors.Is(err, ErrUnknownType):
		return KindProtocol
	default:
		return KindUnavailable
	}
}

// newBridgeError creates a new classified error.
// This is an internal helper - use the Wrap* functions instead.
func newBridgeError(kind Kind, err error, component, operation, message string) *BridgeError {
	return &BridgeError{
		Kind:      kind,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapUnavailable wraps an error as transient unavailability with context.
func WrapUnavailable(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newBridgeError(KindUnavailable, wrappedErr, component, method, wrappedErr.Error())
}

// WrapTimeout wraps an error as a deadline failure, recording the operation
// name and how long it ran before the deadline fired.
func WrapTimeout(err error, component, operation string, elapsed time.Duration) error {
	if err == nil {
		return nil
	}
	wrappedErr := fmt.Errorf("%s.%s: timed out after %s: %w",
		component, operation, elapsed.Round(time.Millisecond), err)
	be := newBridgeError(KindTimeout, wrappedErr, component, operation, wrappedErr.Error())
	be.Elapsed = elapsed
	return be
}

// WrapProtocol wraps an error as a protocol violation with context.
func WrapProtocol(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newBridgeError(KindProtocol, wrappedErr, component, method, wrappedErr.Error())
}

// WrapReset wraps an error as a session reset with context.
func WrapReset(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newBridgeError(KindReset, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context.
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newBridgeError(KindFatal, wrappedErr, component, method, wrappedErr.Error())
}
