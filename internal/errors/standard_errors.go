// Package errors provides the error taxonomy shared by every tool response
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fredcamaral/gomcp-sdk/protocol"
)

// ErrorCode represents semantic error codes for consistent error handling
type ErrorCode string

const (
	// Scope errors
	ErrorCodeInvalidScope         ErrorCode = "INVALID_SCOPE"
	ErrorCodeScopeValidationError ErrorCode = "SCOPE_VALIDATION_ERROR"

	// Authorization errors
	ErrorCodeAccessDenied ErrorCode = "ACCESS_DENIED"
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Resource errors
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"

	// Argument errors outside the scope model
	ErrorCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// System errors
	ErrorCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrorCodeInternalError    ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents the unified error structure across all transports
type StandardError struct {
	ErrorInfo ErrorDetails `json:"error"`
	cause     error
}

// Error implements the Go error interface
func (e *StandardError) Error() string {
	return e.ErrorInfo.Message
}

// Unwrap exposes the underlying failure, if any
func (e *StandardError) Unwrap() error {
	return e.cause
}

// ErrorDetails contains the detailed error information
type ErrorDetails struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	Details       interface{} `json:"details,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// ValidationDetail describes one field violation
type ValidationDetail struct {
	Field  string      `json:"field"`
	Reason string      `json:"reason"`
	Value  interface{} `json:"value,omitempty"`
}

// Violation reasons
const (
	ReasonMissing   = "missing"
	ReasonForbidden = "forbidden"
	ReasonInvalid   = "invalid"
)

// NewStandardError creates a new standardized error
func NewStandardError(code ErrorCode, message string, details interface{}) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// NewInvalidScopeError reports a missing or unrecognized scope value
func NewInvalidScopeError(value string) *StandardError {
	msg := fmt.Sprintf("invalid scope %q: must be one of project, agent, user_preference, session", value)
	if value == "" {
		msg = "scope is required: must be one of project, agent, user_preference, session"
	}
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeInvalidScope,
			Message: msg,
			Details: map[string]interface{}{"scope": value},
		},
	}
}

// ScopeViolations is the details payload of a scope validation failure
type ScopeViolations struct {
	Scope      string             `json:"scope"`
	Violations []ValidationDetail `json:"violations"`
}

// NewScopeValidationError reports every violated field at once
func NewScopeValidationError(scope string, violations []ValidationDetail) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeScopeValidationError,
			Message: fmt.Sprintf("request violates %s scope constraints (%d violation(s))", scope, len(violations)),
			Details: ScopeViolations{Scope: scope, Violations: violations},
		},
	}
}

// NewAccessDeniedError reports an ownership or isolation violation
func NewAccessDeniedError(reason string) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeAccessDenied,
			Message: "access denied: " + reason,
			Details: map[string]interface{}{"reason": reason},
		},
	}
}

// NewNotFoundError reports a resource missing for the acting owner
func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeNotFound,
			Message: fmt.Sprintf("%s not found", resource),
			Details: map[string]interface{}{"resource": resource, "id": id},
		},
	}
}

// NewInvalidArgumentError reports a malformed non-scope argument
func NewInvalidArgumentError(field, reason string, value interface{}) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeInvalidArgument,
			Message: fmt.Sprintf("invalid argument '%s': %s", field, reason),
			Details: ValidationDetail{Field: field, Reason: reason, Value: value},
		},
	}
}

// NewStoreUnavailableError surfaces a backing service failure as-is
func NewStoreUnavailableError(operation string, cause error) *StandardError {
	details := map[string]interface{}{"operation": operation}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeStoreUnavailable,
			Message: fmt.Sprintf("memory store unavailable during %s", operation),
			Details: details,
		},
		cause: cause,
	}
}

// NewUnauthorizedError reports a missing or wrong transport credential
func NewUnauthorizedError(reason string) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeUnauthorized,
			Message: "authentication required",
			Details: map[string]interface{}{"reason": reason},
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, originalError error) *StandardError {
	details := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if originalError != nil {
		details["original_error"] = originalError.Error()
	}

	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeInternalError,
			Message: message,
			Details: details,
		},
		cause: originalError,
	}
}

// WithCorrelationID stamps the error with the request correlation id
func (e *StandardError) WithCorrelationID(id string) *StandardError {
	e.ErrorInfo.CorrelationID = id
	return e
}

// WithDetail adds key to the error details, keeping existing map entries
func (e *StandardError) WithDetail(key string, value interface{}) *StandardError {
	details, ok := e.ErrorInfo.Details.(map[string]interface{})
	if !ok {
		details = make(map[string]interface{}, 2)
		if e.ErrorInfo.Details != nil {
			details["details"] = e.ErrorInfo.Details
		}
	}
	details[key] = value
	e.ErrorInfo.Details = details
	return e
}

// Code returns the semantic code of err, or INTERNAL_ERROR for foreign errors
func Code(err error) ErrorCode {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.ErrorInfo.Code
	}
	return ErrorCodeInternalError
}

// Is reports whether err carries the given semantic code
func Is(err error, code ErrorCode) bool {
	var se *StandardError
	return stderrors.As(err, &se) && se.ErrorInfo.Code == code
}

// From converts any error into a StandardError. Context expiry is reported as
// store unavailability since the only blocking call is the delegated one.
func From(err error, operation string) *StandardError {
	if err == nil {
		return nil
	}
	var se *StandardError
	if stderrors.As(err, &se) {
		return se
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return NewStoreUnavailableError(operation, err)
	}
	return NewInternalError(fmt.Sprintf("%s failed", operation), err)
}

// ToJSONRPCError converts StandardError to JSON-RPC error format
func (e *StandardError) ToJSONRPCError(id interface{}) *protocol.JSONRPCResponse {
	var rpcCode int
	switch e.ErrorInfo.Code {
	case ErrorCodeInvalidScope, ErrorCodeScopeValidationError, ErrorCodeInvalidArgument:
		rpcCode = protocol.InvalidParams
	case ErrorCodeAccessDenied, ErrorCodeUnauthorized:
		rpcCode = -32000
	case ErrorCodeNotFound:
		rpcCode = -32001
	case ErrorCodeStoreUnavailable:
		rpcCode = -32002
	default:
		rpcCode = protocol.InternalError
	}

	return &protocol.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &protocol.JSONRPCError{
			Code:    rpcCode,
			Message: e.ErrorInfo.Message,
			Data:    e,
		},
	}
}

// ToHTTPStatus maps StandardError to appropriate HTTP status code
func (e *StandardError) ToHTTPStatus() int {
	switch e.ErrorInfo.Code {
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeAccessDenied:
		return http.StatusForbidden
	case ErrorCodeInvalidScope, ErrorCodeScopeValidationError, ErrorCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteHTTPError writes StandardError as HTTP response
func (e *StandardError) WriteHTTPError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if e.ErrorInfo.CorrelationID != "" {
		w.Header().Set("X-Correlation-ID", e.ErrorInfo.CorrelationID)
	}
	w.WriteHeader(e.ToHTTPStatus())

	jsonBytes, _ := json.Marshal(e)
	_, _ = w.Write(jsonBytes)
}

// IsValidationError checks if the error is a request-shape error
func IsValidationError(err *StandardError) bool {
	return err.ErrorInfo.Code == ErrorCodeInvalidScope ||
		err.ErrorInfo.Code == ErrorCodeScopeValidationError ||
		err.ErrorInfo.Code == ErrorCodeInvalidArgument
}
