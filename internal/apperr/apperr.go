// Package apperr defines the error taxonomy shared by the services, the HTTP
// layer and the CLI.
//
// Every error that crosses a package boundary with a user-visible meaning is
// an *Error carrying a Kind. Transports map kinds onto their own vocabulary
// (HTTP status codes, CLI exit codes) without inspecting messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes an application error.
type Kind string

const (
	// KindNotFound means the referenced entity does not exist.
	KindNotFound Kind = "NOT_FOUND"

	// KindValidation means the caller supplied malformed or inconsistent input.
	KindValidation Kind = "VALIDATION"

	// KindConflict means the request collides with current state
	// (duplicate upload, second apply, stale fingerprint or hash).
	KindConflict Kind = "CONFLICT"

	// KindNetwork means a remote call failed in transport or with a 5xx.
	KindNetwork Kind = "NETWORK"

	// KindInternal is everything else.
	KindInternal Kind = "INTERNAL"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a KindNotFound error.
func NotFound(code, format string, args ...any) *Error {
	return newError(KindNotFound, code, format, args...)
}

// Validation builds a KindValidation error.
func Validation(code, format string, args ...any) *Error {
	return newError(KindValidation, code, format, args...)
}

// Conflict builds a KindConflict error.
func Conflict(code, format string, args ...any) *Error {
	return newError(KindConflict, code, format, args...)
}

// Network wraps a transport failure.
func Network(code string, err error, format string, args ...any) *Error {
	e := newError(KindNetwork, code, format, args...)
	e.Err = err
	return e
}

// Internal wraps an unexpected failure.
func Internal(code string, err error, format string, args ...any) *Error {
	e := newError(KindInternal, code, format, args...)
	e.Err = err
	return e
}

// WithDetails attaches structured details (for example a list of
// validation problems) and returns the same error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// KindOf reports the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// CodeOf reports the code of err, or "" when err is not an *Error.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsNotFound returns true if err is a not-found error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}

// IsConflict returns true if err is a conflict error.
func IsConflict(err error) bool {
	return err != nil && KindOf(err) == KindConflict
}

// IsNetwork returns true if err is a network error.
func IsNetwork(err error) bool {
	return err != nil && KindOf(err) == KindNetwork
}
