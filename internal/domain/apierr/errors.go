// Package apierr defines the gateway's error taxonomy and maps it to the
// OpenAI-compatible error envelope.
package apierr

import (
	"errors"
	"fmt"
)

// Code enumerates the gateway's error kinds, independent of HTTP status.
type Code string

const (
	CodeInvalidRequest        Code = "invalid_request"
	CodeInvalidHeaderValue    Code = "invalid_header_value"
	CodeInvalidSessionID      Code = "invalid_session_id"
	CodeSessionNotFound       Code = "session_not_found"
	CodeSessionBusy           Code = "session_busy"
	CodeMissingAPIKey         Code = "missing_api_key"
	CodeInvalidAPIKey         Code = "invalid_api_key"
	CodeRateLimitExceeded     Code = "rate_limit_exceeded"
	CodeUnsupportedParameter  Code = "unsupported_parameter"
	CodeModelNotFound         Code = "model_not_found"
	CodeCLISpawnError         Code = "cli_spawn_error"
	CodeStreamError           Code = "stream_error"
	CodeBackendError          Code = "backend_error"
	CodeOutputLimitExceeded   Code = "output_limit_exceeded"
	CodePassthroughDisabled   Code = "passthrough_disabled"
	CodePassthroughNotConfig  Code = "passthrough_not_configured"
	CodeConnectionError       Code = "connection_error"
	CodeTimeout               Code = "timeout"
	CodeUnsupportedMediaType  Code = "unsupported_media_type"
	CodePayloadTooLarge       Code = "payload_too_large"
	CodeInternal              Code = "internal_error"
)

// APIError is a typed gateway error carrying everything needed to render
// the OpenAI-compatible {error: {message, type, param, code}} envelope.
type APIError struct {
	Status  int
	Code    Code
	Type    string
	Message string
	Param   *string
	Err     error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap enables errors.Is/errors.As on the cause chain.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Envelope is the wire shape of an OpenAI-compatible error body.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

// EnvelopeBody is the inner {message, type, param, code} object.
type EnvelopeBody struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    string  `json:"code"`
}

// Envelope renders the OpenAI error body for this error.
func (e *APIError) Envelope() Envelope {
	return Envelope{Error: EnvelopeBody{
		Message: e.Message,
		Type:    e.Type,
		Param:   e.Param,
		Code:    string(e.Code),
	}}
}

func newf(status int, code Code, typ, format string, args ...any) *APIError {
	return &APIError{Status: status, Code: code, Type: typ, Message: fmt.Sprintf(format, args...)}
}

func withParam(e *APIError, param string) *APIError {
	e.Param = &param
	return e
}

// Constructors for each error kind named in spec.md §7.

func InvalidRequest(format string, args ...any) *APIError {
	return newf(400, CodeInvalidRequest, "invalid_request_error", format, args...)
}

func InvalidRequestParam(param, format string, args ...any) *APIError {
	return withParam(InvalidRequest(format, args...), param)
}

func InvalidHeaderValue(format string, args ...any) *APIError {
	return newf(400, CodeInvalidHeaderValue, "invalid_request_error", format, args...)
}

func InvalidSessionID() *APIError {
	return newf(400, CodeInvalidSessionID, "invalid_request_error", "session id is not a valid UUID v4")
}

// SessionNotFound covers "unknown", "not yours", and "expired" uniformly —
// spec.md §4.D requires an identical body for all three to avoid leaking
// which case applies.
func SessionNotFound() *APIError {
	return newf(404, CodeSessionNotFound, "invalid_request_error", "session not found")
}

func SessionBusy() *APIError {
	return newf(429, CodeSessionBusy, "invalid_request_error", "session is in use by another request")
}

func MissingAPIKey() *APIError {
	return newf(401, CodeMissingAPIKey, "invalid_request_error", "missing API key")
}

func InvalidAPIKey() *APIError {
	return newf(401, CodeInvalidAPIKey, "invalid_request_error", "invalid API key")
}

func RateLimitExceeded(message string) *APIError {
	return newf(429, CodeRateLimitExceeded, "rate_limit_error", "%s", message)
}

func UnsupportedParameter(param string) *APIError {
	return withParam(newf(400, CodeUnsupportedParameter, "invalid_request_error",
		"parameter '%s' is not supported by this backend", param), param)
}

func ModelNotFound(message string) *APIError {
	return newf(400, CodeModelNotFound, "invalid_request_error", "%s", message)
}

func CLISpawnError(cause error) *APIError {
	e := newf(500, CodeCLISpawnError, "server_error", "failed to start backend process: %v", cause)
	e.Err = cause
	return e
}

func StreamError(message string) *APIError {
	return newf(500, CodeStreamError, "server_error", "%s", message)
}

func BackendError(message string) *APIError {
	return newf(500, CodeBackendError, "server_error", "%s", message)
}

func OutputLimitExceeded(which string) *APIError {
	return newf(502, CodeOutputLimitExceeded, "server_error", "%s output limit exceeded", which)
}

func PassthroughDisabled() *APIError {
	return newf(503, CodePassthroughDisabled, "server_error", "the upstream passthrough backend is disabled")
}

func PassthroughNotConfigured() *APIError {
	return newf(503, CodePassthroughNotConfig, "server_error", "no upstream API key is configured for this request")
}

func ConnectionError(cause error) *APIError {
	e := newf(502, CodeConnectionError, "server_error", "failed to reach upstream: %v", cause)
	e.Err = cause
	return e
}

func Timeout(operation string) *APIError {
	return newf(504, CodeTimeout, "server_error", "%s timed out", operation)
}

func UnsupportedMediaType() *APIError {
	return newf(415, CodeUnsupportedMediaType, "invalid_request_error", "Content-Type must be application/json")
}

func PayloadTooLarge() *APIError {
	return newf(413, CodePayloadTooLarge, "invalid_request_error", "request body is too large")
}

func MalformedBody(cause error) *APIError {
	e := newf(400, CodeInvalidRequest, "invalid_request_error", "malformed request body: %v", cause)
	e.Err = cause
	return e
}

func Internal(cause error) *APIError {
	e := newf(500, CodeInternal, "server_error", "internal server error")
	e.Err = cause
	return e
}

// Upstream preserves an upstream OpenAI-compatible API's own error body and
// status verbatim, for the proxy backend's "API-error → upstream status
// with the upstream body preserved" case, which carries no gateway-defined
// code of its own.
func Upstream(status int, message, typ, code string, param *string) *APIError {
	return &APIError{Status: status, Code: Code(code), Type: typ, Message: message, Param: param}
}

// As extracts an *APIError from err, if present anywhere in its chain.
func As(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

// ToResponse maps any error to the (status, envelope) pair the HTTP layer
// writes. Unrecognized errors become a generic 500 server_error, never
// leaking their original message to the client.
func ToResponse(err error) (int, Envelope) {
	if apiErr, ok := As(err); ok {
		return apiErr.Status, apiErr.Envelope()
	}
	return Internal(err).Status, Internal(err).Envelope()
}
