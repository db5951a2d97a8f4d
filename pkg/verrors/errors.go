// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package verrors defines the error kinds surfaced by node, metadata and
// transfer operations.
package verrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code represents a domain-level error code
type Code int

const (
	CodeNone Code = iota
	CodeInvalidPath
	CodeInvalidArgument
	CodeNotFound
	CodePermissionDenied
	CodeUnsupportedDirection
	CodeInternalError
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "None"
	case CodeInvalidPath:
		return "InvalidPath"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeNotFound:
		return "NotFound"
	case CodePermissionDenied:
		return "PermissionDenied"
	case CodeUnsupportedDirection:
		return "UnsupportedDirection"
	default:
		return "InternalError"
	}
}

// HTTPStatus maps a code to the status returned by the HTTP surface.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidPath, CodeInvalidArgument, CodeUnsupportedDirection:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodePermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a Code plus an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Code == e.Code
}

// Code-only values for errors.Is.
var (
	ErrInvalidPath          = &Error{Code: CodeInvalidPath}
	ErrInvalidArgument      = &Error{Code: CodeInvalidArgument}
	ErrNotFound             = &Error{Code: CodeNotFound}
	ErrPermissionDenied     = &Error{Code: CodePermissionDenied}
	ErrUnsupportedDirection = &Error{Code: CodeUnsupportedDirection}
	ErrInternal             = &Error{Code: CodeInternalError}
)

func InvalidPath(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidPath, Message: fmt.Sprintf(format, args...)}
}

func InvalidArgument(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func PermissionDenied(format string, args ...any) *Error {
	return &Error{Code: CodePermissionDenied, Message: fmt.Sprintf(format, args...)}
}

func UnsupportedDirection(direction string) *Error {
	return &Error{Code: CodeUnsupportedDirection, Message: fmt.Sprintf("unsupported direction %s", direction)}
}

// Internal wraps a backend or storage failure.
func Internal(err error, format string, args ...any) *Error {
	return &Error{Code: CodeInternalError, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain.
// Unclassified non-nil errors are InternalError.
func CodeOf(err error) Code {
	if err == nil {
		return CodeNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternalError
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsPermissionDenied checks if an error is a permission error
func IsPermissionDenied(err error) bool {
	return CodeOf(err) == CodePermissionDenied
}
