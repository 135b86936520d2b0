// File: codes.go
// Title: Error Code Definitions
// Description: Error codes shared by the audio core, the voice client and the
//              web layer. Each code maps to one HTTP status.
// Author: Mike Stoffels with Claude
// Version: v0.1.0
// Created: 2026-10-19
// Modified: 2026-10-19
//
// Change History:
// - 2026-10-19 v0.1.0: Initial implementation

package apperror

import "net/http"

// Code represents a structured error code for categorizing errors
type Code string

const (
	CodeUnknown  Code = "UNKNOWN"
	CodeInternal Code = "INTERNAL"
	CodeNotFound Code = "NOT_FOUND"

	// Audio devices
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeDeviceUnavailable Code = "DEVICE_UNAVAILABLE"

	// Audio data
	CodeDecode Code = "DECODE_ERROR"

	// Remote inference server
	CodeTransport Code = "TRANSPORT_ERROR"

	// Input and state
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeInvalidState Code = "INVALID_STATE"
)

// String returns the string representation of the error code
func (c Code) String() string {
	return string(c)
}

// IsValid checks if the error code is a known code
func (c Code) IsValid() bool {
	switch c {
	case CodeUnknown, CodeInternal, CodeNotFound,
		CodePermissionDenied, CodeDeviceUnavailable,
		CodeDecode, CodeTransport,
		CodeValidation, CodeInvalidState:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the HTTP status code used when the error reaches a client
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation, CodeDecode:
		return http.StatusBadRequest
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeInvalidState:
		return http.StatusConflict
	case CodeDeviceUnavailable:
		return http.StatusServiceUnavailable
	case CodeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
