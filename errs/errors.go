// Package errs defines the error kinds shared by every livefeed component.
//
// Components return *Error values when the caller needs to react to the kind of
// failure (bad input vs. broken transport vs. server fault). Plain wrapped errors
// are used everywhere else.
package errs

import (
	"errors"
	"fmt"
)

// Code classifies an error. Codes travel over the wire in the
// extensions.code field of GraphQL errors.
type Code string

const (
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeNotFound     Code = "NOT_FOUND"
	CodeTransport    Code = "TRANSPORT_ERROR"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeBadRequest   Code = "BAD_REQUEST"
)

// Error is a classified error.
type Error struct {
	Code Code
	Op   string // operation that failed, e.g. "createRecord"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a code. A nil err yields a generic message for the code.
func New(code Code, op string, err error) *Error {
	if err == nil {
		err = errors.New(string(code))
	}
	return &Error{Code: code, Op: op, Err: err}
}

func InvalidInput(op string, err error) *Error { return New(CodeInvalidInput, op, err) }
func NotFound(op string, err error) *Error     { return New(CodeNotFound, op, err) }
func Transport(op string, err error) *Error    { return New(CodeTransport, op, err) }
func Internal(op string, err error) *Error     { return New(CodeInternal, op, err) }

// CodeOf returns the code of the first *Error in err's chain.
// Unclassified non-nil errors are reported as CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func IsInvalidInput(err error) bool { return err != nil && CodeOf(err) == CodeInvalidInput }
func IsTransport(err error) bool    { return err != nil && CodeOf(err) == CodeTransport }
func IsInternal(err error) bool     { return err != nil && CodeOf(err) == CodeInternal }
