// Package apperr carries the short error codes that are sent to realtime clients.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnauthorized    Code = "Unauthorized"
	CodeAccessDenied    Code = "Access denied"
	CodeNotFound        Code = "Not found"
	CodeInvalidArgument Code = "Bad request"
	CodeNotAllowed      Code = "Not allowed"
	CodeInternal        Code = "Internal error"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func Unauthorized(msg string) error {
	return New(CodeUnauthorized, msg)
}

func AccessDenied(msg string) error {
	return New(CodeAccessDenied, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func InvalidArg(msg string) error {
	return New(CodeInvalidArgument, msg)
}

func NotAllowed(msg string) error {
	return New(CodeNotAllowed, msg)
}

func Internal(msg string, cause error) error {
	return Wrap(CodeInternal, msg, cause)
}

// CodeOf returns the code of the first AppError in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Public returns the code and message that may be shown to a client.
// Causes are never exposed.
func Public(err error) (Code, string) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code, appErr.Message
	}
	return CodeInternal, "Internal server error"
}
