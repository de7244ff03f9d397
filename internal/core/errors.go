// Package core provides core types and interfaces for the LLM gateway.
package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeUnknownModel indicates a model id absent from the backend's registry
	ErrorTypeUnknownModel ErrorType = "unknown_model_error"
	// ErrorTypeMissingCredential indicates a required credential field is empty
	ErrorTypeMissingCredential ErrorType = "missing_credential_error"
	// ErrorTypeMalformedToolArguments indicates undecodable tool-call arguments
	ErrorTypeMalformedToolArguments ErrorType = "malformed_tool_arguments_error"
	// ErrorTypeBackendTransport wraps any failure reported by a backend transport
	ErrorTypeBackendTransport ErrorType = "backend_transport_error"
	// ErrorTypeInvalidRequest indicates a malformed canonical request (400)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
)

// Stage names the step of a call at which an error was raised.
type Stage string

const (
	StageConfigure Stage = "configure"
	StageBuild     Stage = "build"
	StageSend      Stage = "send"
	StageNormalize Stage = "normalize"
)

// GatewayError is the base error type for all gateway errors
type GatewayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Model      string    `json:"model,omitempty"`
	Stage      Stage     `json:"stage,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	var sb strings.Builder
	if e.Provider != "" {
		sb.WriteByte('[')
		sb.WriteString(e.Provider)
		if e.Model != "" {
			sb.WriteByte('/')
			sb.WriteString(e.Model)
		}
		sb.WriteString("] ")
	}
	sb.WriteString(string(e.Type))
	if e.Stage != "" {
		sb.WriteString(" at ")
		sb.WriteString(string(e.Stage))
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	return sb.String()
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// WithContext fills in the model and stage when they are not already set.
func (e *GatewayError) WithContext(provider, model string, stage Stage) *GatewayError {
	if e.Provider == "" {
		e.Provider = provider
	}
	if e.Model == "" {
		e.Model = model
	}
	if e.Stage == "" {
		e.Stage = stage
	}
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeUnknownModel:
		return http.StatusNotFound
	case ErrorTypeMissingCredential:
		return http.StatusUnauthorized
	case ErrorTypeMalformedToolArguments, ErrorTypeBackendTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *GatewayError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"type":    e.Type,
		"message": e.Message,
	}
	if e.Provider != "" {
		body["provider"] = e.Provider
	}
	if e.Model != "" {
		body["model"] = e.Model
	}
	if e.Stage != "" {
		body["stage"] = e.Stage
	}
	return map[string]interface{}{"error": body}
}

// IsErrorType reports whether err is, or wraps, a GatewayError of type t.
func IsErrorType(err error, t ErrorType) bool {
	var gatewayErr *GatewayError
	return errors.As(err, &gatewayErr) && gatewayErr.Type == t
}

// NewUnknownModelError reports a model id missing from a backend's registry.
func NewUnknownModelError(provider, model string) *GatewayError {
	return &GatewayError{
		Type:     ErrorTypeUnknownModel,
		Message:  fmt.Sprintf("model %q is not known to the %s registry", model, provider),
		Provider: provider,
		Model:    model,
		Stage:    StageConfigure,
	}
}

// NewMissingCredentialError reports an absent credential field.
func NewMissingCredentialError(provider, field string) *GatewayError {
	return &GatewayError{
		Type:     ErrorTypeMissingCredential,
		Message:  fmt.Sprintf("%s is required for the %s provider", field, provider),
		Provider: provider,
		Stage:    StageConfigure,
	}
}

// NewMalformedToolArgumentsError reports tool-call arguments that could not be
// decoded into a key/value mapping.
func NewMalformedToolArgumentsError(provider, toolName, callID string, err error) *GatewayError {
	msg := fmt.Sprintf("arguments of tool call %q (%s) are not a JSON object", callID, toolName)
	if err != nil {
		msg += ": " + err.Error()
	}
	return &GatewayError{
		Type:     ErrorTypeMalformedToolArguments,
		Message:  msg,
		Provider: provider,
		Stage:    StageNormalize,
		Err:      err,
	}
}

// NewBackendTransportError wraps a failure surfaced by a transport collaborator.
func NewBackendTransportError(provider string, statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeBackendTransport,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Stage:      StageSend,
		Err:        err,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// AsTransportError returns err unchanged when it already is a GatewayError and
// otherwise wraps it as a backend transport error.
func AsTransportError(provider string, err error) *GatewayError {
	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr
	}
	return NewBackendTransportError(provider, http.StatusBadGateway, err.Error(), err)
}

// ParseProviderError parses an error response from a provider and returns an appropriate GatewayError
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *GatewayError {
	message := strings.TrimSpace(string(body))
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "error", "Message"} {
			if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
				message = v.Str
				break
			}
		}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	status := statusCode
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		status = http.StatusUnauthorized
	case statusCode == http.StatusTooManyRequests:
	case statusCode >= 400 && statusCode < 500:
	default:
		status = http.StatusBadGateway
	}

	err := originalErr
	if err == nil {
		err = fmt.Errorf("%s returned status %d", provider, statusCode)
	}
	return NewBackendTransportError(provider, status, message, err)
}
