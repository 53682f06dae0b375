// Package apierrors implements the error taxonomy: one typed
// variant per row, each carrying an HTTP-equivalent status the dispatcher
// maps onto a JSON-RPC error code and a structured `data` payload.
package apierrors

import (
	"errors"
	"fmt"
)

// Code identifies a taxonomy variant; it appears verbatim in the
// dispatcher's `data.code` field so clients can pattern-match on it.
type Code string

const (
	CodeToolNotFound       Code = "TOOL_NOT_FOUND"
	CodeToolDisabled       Code = "TOOL_DISABLED"
	CodeToolExecutionError Code = "TOOL_EXECUTION_ERROR"
	CodeValidationError    Code = "VALIDATION_ERROR"
	CodeAuthenticationErr  Code = "AUTHENTICATION_ERROR"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeAuthorizationError Code = "AUTHORIZATION_ERROR"
	CodeBackendStartup     Code = "BACKEND_STARTUP_ERROR"
	CodeBackendTimeout     Code = "BACKEND_TIMEOUT"
	CodeClientStopped      Code = "CLIENT_STOPPED"
	CodeMCPServerError     Code = "MCP_SERVER_ERROR"
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	CodeInternalError      Code = "INTERNAL_ERROR"
)

// HTTP-equivalent statuses, used only to pick a
// JSON-RPC code family; never serialized.
const (
	statusBadRequest   = 400
	statusUnauthorized = 401
	statusForbidden    = 403
	statusNotFound     = 404
	statusReqTimeout   = 408
	statusTooManyReqs  = 429
	statusInternal     = 500
	statusBadGateway   = 502
)

// APIError is the one error type every aggregator component returns for a
// taxonomy condition. Details carries whatever structured payload a
// specific variant needs (e.g. retryAfter for rate limiting).
type APIError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	cause      error
}

func (e *APIError) Error() string { return e.Message }

func (e *APIError) Unwrap() error { return e.cause }

// WithDetails returns a copy of e with Details merged in.
func (e *APIError) WithDetails(details map[string]interface{}) *APIError {
	clone := *e
	clone.Details = details
	return &clone
}

func newError(code Code, status int, format string, args ...interface{}) *APIError {
	return &APIError{Code: code, HTTPStatus: status, Message: fmt.Sprintf(format, args...)}
}

// ToolNotFound reports an unknown tool name.
func ToolNotFound(qualifiedName string) *APIError {
	return newError(CodeToolNotFound, statusNotFound, "Tool not found: %s", qualifiedName)
}

// ServerNotFound reports a qualified name whose backend prefix is not a
// configured backend. Deliberately shaped as MCP_SERVER_ERROR in the
// -32000 family so clients can pattern-match the deterministic message.
func ServerNotFound(backend string) *APIError {
	return newError(CodeMCPServerError, statusBadGateway, "MCP server not found: %s", backend)
}

// ToolDisabled reports a tool whose backend is configured but disabled.
func ToolDisabled(qualifiedName string) *APIError {
	return newError(CodeToolDisabled, statusForbidden, "tool disabled: %s", qualifiedName)
}

// ToolExecutionError wraps a backend error or wire failure encountered
// while executing a tool call.
func ToolExecutionError(qualifiedName string, cause error) *APIError {
	err := newError(CodeToolExecutionError, statusInternal, "tool execution failed: %s: %v", qualifiedName, cause)
	err.cause = cause
	return err
}

// ValidationError reports a parameter validation failure.
func ValidationError(message string) *APIError {
	return newError(CodeValidationError, statusBadRequest, "%s", message)
}

// RateLimitExceeded reports a denied CheckLimit call; retryAfter is
// seconds until the caller should retry.
func RateLimitExceeded(retryAfterSeconds int64) *APIError {
	return newError(CodeRateLimitExceeded, statusTooManyReqs,
		"Rate limit exceeded. Retry after %d seconds.", retryAfterSeconds).
		WithDetails(map[string]interface{}{"retryAfter": retryAfterSeconds})
}

// AuthenticationError reports a missing, unknown, disabled, or expired
// credential.
func AuthenticationError(reason string, cause error) *APIError {
	err := newError(CodeAuthenticationErr, statusUnauthorized, "%s", reason)
	err.cause = cause
	return err
}

// AuthorizationError reports a permission-check failure.
func AuthorizationError(permission string) *APIError {
	return newError(CodeAuthorizationError, statusForbidden, "missing permission: %s", permission)
}

// BackendStartup reports a backend that failed to spawn or initialize.
func BackendStartup(backend string, cause error) *APIError {
	err := newError(CodeBackendStartup, statusInternal, "backend %s failed to start: %v", backend, cause)
	err.cause = cause
	return err
}

// BackendTimeout reports a request that exceeded its per-request timeout.
func BackendTimeout(backend string) *APIError {
	return newError(CodeBackendTimeout, statusReqTimeout, "backend %s timed out", backend)
}

// ClientStopped reports a pending request rejected by Stop().
func ClientStopped(backend string) *APIError {
	return newError(CodeClientStopped, statusInternal, "backend %s stopped", backend)
}

// MCPServerError reports a structured error the backend itself returned,
// or a backend that is not running or unreachable.
func MCPServerError(backend, message string) *APIError {
	return newError(CodeMCPServerError, statusBadGateway, "%s: %s", backend, message)
}

// ConfigurationError reports a config load, parse, or validation failure.
func ConfigurationError(message string) *APIError {
	return newError(CodeConfigurationError, statusInternal, "%s", message)
}

// InternalError wraps an unexpected error the aggregator cannot attribute
// to a more specific variant.
func InternalError(cause error) *APIError {
	err := newError(CodeInternalError, statusInternal, "internal error: %v", cause)
	err.cause = cause
	return err
}

// JSONRPCCode maps an APIError's HTTP-equivalent status to the JSON-RPC
// error code family the dispatcher must emit:
// 400 -> -32602, 404 -> -32601, anything else -> -32000.
func (e *APIError) JSONRPCCode() int {
	switch e.HTTPStatus {
	case statusBadRequest:
		return -32602
	case statusNotFound:
		return -32601
	default:
		return -32000
	}
}

// As reports whether err (or something it wraps) is an *APIError, the way
// errors.As would, provided as a convenience for dispatcher call sites.
func As(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
