// Package errs defines the engine's error taxonomy: the enumerated codes
// from the execution result contract, and the EngineError type every
// engine-surfaced failure is reported as.
package errs

import (
	"errors"
	"fmt"
)

// Code enumerates the failure kinds an execution can surface. See
// Result in package stats for how these reach the host.
type Code string

// Error lets a bare Code serve as an errors.Is target (see EngineError.Is).
func (c Code) Error() string { return string(c) }

const (
	CodeValidationError              Code = "VALIDATION_ERROR"
	CodeIterationLimitExceeded       Code = "ITERATION_LIMIT_EXCEEDED"
	CodeToolCallLimitExceeded        Code = "TOOL_CALL_LIMIT_EXCEEDED"
	CodeRateLimitExceeded            Code = "RATE_LIMIT_EXCEEDED"
	CodeOperationNotAllowed          Code = "OPERATION_NOT_ALLOWED"
	CodeOperationBlocked             Code = "OPERATION_BLOCKED"
	CodeSuspiciousPatternDetected    Code = "SUSPICIOUS_PATTERN_DETECTED"
	CodeMemoryLimitExceeded          Code = "MEMORY_LIMIT_EXCEEDED"
	CodeSerializationLimitExceeded   Code = "SERIALIZATION_LIMIT_EXCEEDED"
	CodeConsoleLimitExceeded         Code = "CONSOLE_LIMIT_EXCEEDED"
	CodeSecurityViolation            Code = "SECURITY_VIOLATION"
	CodeTimeoutExceeded              Code = "TIMEOUT_EXCEEDED"
	CodeExecutionAborted             Code = "EXECUTION_ABORTED"
	CodeBadArguments                 Code = "BAD_ARGUMENTS"
	CodeBridgeProtocolError          Code = "BRIDGE_PROTOCOL_ERROR"
	CodeToolInvocationFailed         Code = "TOOL_INVOCATION_FAILED"
	CodeDoubleVMExecutionError       Code = "DOUBLE_VM_EXECUTION_ERROR"
	CodeReferenceSizeExceeded        Code = "REFERENCE_SIZE_EXCEEDED"
	CodeCompositeDisallowed          Code = "COMPOSITE_DISALLOWED"
	CodeSanitizeDepthExceeded        Code = "SANITIZE_DEPTH_EXCEEDED"
	CodeSanitizePropertiesExceeded   Code = "SANITIZE_PROPERTIES_EXCEEDED"
	CodeFunctionReturned             Code = "FUNCTION_RETURNED"
	CodeSymbolReturned               Code = "SYMBOL_RETURNED"
)

// EngineError is the sole error type the engine surfaces to a host. It
// carries an enumerated Code, a message already safe to show the host
// (no guest-controlled raw payloads, no unredacted stack frames unless
// the caller explicitly asked for unsanitized stacks), and optional
// structured Data (e.g. the triggering pattern id).
type EngineError struct {
	Code    Code
	Message string
	Data    map[string]any
	cause   error
}

// New constructs an EngineError with no wrapped cause.
func New(code Code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// Newf constructs an EngineError with a formatted message.
func Newf(code Code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an EngineError that preserves cause for errors.Unwrap,
// without leaking cause's message into Message (callers choose what to
// disclose).
func Wrap(code Code, message string, cause error) *EngineError {
	return &EngineError{Code: code, Message: message, cause: cause}
}

// WithData returns a copy of e with Data merged in.
func (e *EngineError) WithData(data map[string]any) *EngineError {
	cp := *e
	cp.Data = data
	return &cp
}

func (e *EngineError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error { return e.cause }

// Is reports whether target is an EngineError with the same Code, or
// a bare Code value equal to e.Code. This lets call sites write
// errors.Is(err, errs.CodeTimeoutExceeded) without constructing an
// EngineError just to compare codes.
func (e *EngineError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if code, ok := target.(Code); ok {
		return code == e.Code
	}
	var other *EngineError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// CodeOf extracts the Code from err if it is (or wraps) an
// *EngineError, otherwise returns "" and false.
func CodeOf(err error) (Code, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
