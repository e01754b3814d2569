// Package errors provides standardized error codes for the bridge.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (server, discovery, deeplink, ...)
//   - error: The specific error type within that domain
//
// Codes are stable and are returned to local CLI callers by the control
// endpoints alongside a human-readable message.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Config domain - snapshot resolution
	CodeConfigInvalid = "config.invalid" // A config value is out of range or unparsable

	// Server domain - pairing WebSocket server
	CodeServerBindFailed     = "server.bind_failed"     // Could not bind the port or its fallback
	CodeServerCapacity       = "server.capacity"        // maxConnections reached at accept time
	CodeServerRateLimited    = "server.rate_limited"    // Connection exceeded the message window
	CodeServerInvalidMessage = "server.invalid_message" // Malformed or invalid message
	CodeServerNotLoopback    = "server.not_loopback"    // Remote address rejected by localhost-only policy
	CodeServerSendFailed     = "server.send_failed"     // Outbound frame could not be queued or written

	// Discovery domain - UDP responder
	CodeDiscoveryBindFailed = "discovery.bind_failed" // UDP socket could not be bound
	CodeDiscoverySendFailed = "discovery.send_failed" // Response datagram could not be sent

	// Deep link domain - routing and sanitization
	CodeDeepLinkInvalidScheme = "deeplink.invalid_scheme" // Input does not use the application scheme
	CodeDeepLinkRejected      = "deeplink.rejected"       // Translated target failed sanitization

	// Surface domain - navigable surface collaborator
	CodeSurfaceUnreachable = "surface.unreachable" // Navigation target could not be reached

	// Storage domain - pairing event log
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed

	// Host domain - CLI talking to a running host
	CodeHostUnreachable = "host.unreachable" // No running host answered on any candidate address

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal error
)

// CodedError wraps an error with a stable error code.
type CodedError struct {
	Code    string // Stable error code (e.g., "server.bind_failed")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the function used when converting errors to HTTP responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// InvalidConfig creates a "config.invalid" error for the named setting.
func InvalidConfig(setting, reason string) *CodedError {
	return New(CodeConfigInvalid, fmt.Sprintf("%s: %s", setting, reason))
}

// BindFailed creates a "server.bind_failed" error.
func BindFailed(addr string, cause error) *CodedError {
	return Wrap(CodeServerBindFailed, fmt.Sprintf("failed to listen on %s", addr), cause)
}

// InvalidMessage creates a "server.invalid_message" error.
func InvalidMessage(reason string) *CodedError {
	return New(CodeServerInvalidMessage, reason)
}

// Rejected creates a "deeplink.rejected" error for a target the sanitizer refused.
func Rejected(target string) *CodedError {
	return New(CodeDeepLinkRejected, fmt.Sprintf("navigation target %q is not allowed", target))
}

// Unreachable creates a "surface.unreachable" error.
func Unreachable(target string, cause error) *CodedError {
	return Wrap(CodeSurfaceUnreachable, fmt.Sprintf("%s is unreachable", target), cause)
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
