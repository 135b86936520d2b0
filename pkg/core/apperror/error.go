// File: error.go
// Title: Structured Error Type
// Description: Error type carrying a code, the failing operation and the cause.
// Author: Mike Stoffels with Claude
// Version: v0.1.0
// Created: 2026-10-19
// Modified: 2026-10-19
//
// Change History:
// - 2026-10-19 v0.1.0: Initial implementation

package apperror

import (
	"errors"
	"fmt"
)

// Error is the error type returned across package boundaries
type Error struct {
	code    Code
	op      string
	message string
	cause   error
}

// New creates an error with a code and message
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf creates an error with a code and formatted message
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error. If err already carries a code and code is
// CodeUnknown, the inner code is preserved.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	if code == CodeUnknown {
		code = GetCode(err)
	}
	return &Error{code: code, message: message, cause: err}
}

// Error implements the standard error interface
func (e *Error) Error() string {
	msg := e.message
	if e.op != "" {
		msg = e.op + ": " + msg
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", msg, e.cause.Error())
	}
	return msg
}

// Unwrap returns the underlying cause for error unwrapping
func (e *Error) Unwrap() error {
	return e.cause
}

// WithOperation records the operation that failed
func (e *Error) WithOperation(op string) *Error {
	e.op = op
	return e
}

// Code returns the error code
func (e *Error) Code() Code {
	return e.code
}

// Operation returns the failed operation, if set
func (e *Error) Operation() string {
	return e.op
}

// Message returns the message without operation and cause
func (e *Error) Message() string {
	return e.message
}

// HasCode checks if any error in the chain has the given code
func HasCode(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.code == code {
			return true
		}
		err = e.cause
	}
	return false
}

// GetCode returns the outermost error code, or CodeUnknown
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return CodeUnknown
}
