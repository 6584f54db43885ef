package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error represents a classified failure surfaced by the tutor client.
type Error struct {
	Type          ErrorType `json:"type"`
	Message       string    `json:"message"`
	Param         string    `json:"param,omitempty"`
	Code          string    `json:"code,omitempty"`
	ProviderError any       `json:"provider_error,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrCredential     ErrorType = "credential_error"
	ErrDevice         ErrorType = "device_error"
	ErrDecode         ErrorType = "decode_error"
	ErrTransport      ErrorType = "transport_error"
	ErrTimeout        ErrorType = "timeout_error"
	ErrAPI            ErrorType = "api_error"
)

// Device error codes, mirroring the failures a microphone request can report.
const (
	DeviceNotFound    = "not_found"
	DeviceNotAllowed  = "not_allowed"
	DeviceNotReadable = "not_readable"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewCredentialError creates an error for a rejected or unresolvable API credential.
func NewCredentialError(message string, underlying error) *Error {
	return withCause(&Error{Type: ErrCredential, Message: message}, underlying)
}

// NewDeviceError creates an audio device error. code is one of the Device* constants.
func NewDeviceError(code, message string, underlying error) *Error {
	return withCause(&Error{Type: ErrDevice, Message: message, Code: code}, underlying)
}

// NewDecodeError creates an error for a malformed payload.
func NewDecodeError(message string, underlying error) *Error {
	return withCause(&Error{Type: ErrDecode, Message: message}, underlying)
}

// NewTransportError creates an error for a failed streaming session.
func NewTransportError(message string, underlying error) *Error {
	return withCause(&Error{Type: ErrTransport, Message: message}, underlying)
}

// NewTimeoutError creates an error for an operation that exceeded its bound.
func NewTimeoutError(message string) *Error {
	return &Error{
		Type:    ErrTimeout,
		Message: message,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string, underlying error) *Error {
	return withCause(&Error{Type: ErrAPI, Message: message}, underlying)
}

func withCause(e *Error, underlying error) *Error {
	if underlying != nil {
		e.ProviderError = underlying
	}
	return e
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if ue, ok := e.ProviderError.(error); ok {
		return ue
	}
	return nil
}

var credentialMarkers = []string{
	"Requested entity was not found.",
	"API key not valid",
	"API_KEY_INVALID",
	"PERMISSION_DENIED",
	"UNAUTHENTICATED",
}

// LooksLikeCredentialFailure reports whether a service message indicates an
// invalid or unresolvable API credential.
func LooksLikeCredentialFailure(msg string) bool {
	for _, marker := range credentialMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsType reports whether err, or anything it wraps, is a *Error of type t.
func IsType(err error, t ErrorType) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	for ce != nil {
		if ce.Type == t {
			return true
		}
		next, ok := ce.ProviderError.(error)
		if !ok || !errors.As(next, &ce) {
			return false
		}
	}
	return false
}
