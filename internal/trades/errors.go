package trades

import (
	"errors"
	"fmt"
)

// Code машиночитаемый код ошибки сделки.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeForbidden         Code = "FORBIDDEN"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeDeadlineExceeded  Code = "DEADLINE_EXCEEDED"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeUpstream          Code = "UPSTREAM_FAILURE"
)

// Error типизированная ошибка операции над сделкой.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает только код, поэтому errors.Is(err, ErrForbidden) работает
// для любой ошибки с этим кодом.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrForbidden         = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition, Message: "invalid transition"}
	ErrDeadlineExceeded  = &Error{Code: CodeDeadlineExceeded, Message: "deposit deadline exceeded"}
	ErrValidation        = &Error{Code: CodeValidation, Message: "validation error"}
	ErrUpstream          = &Error{Code: CodeUpstream, Message: "upstream failure"}
)

func newError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func notFound(msg string) error { return newError(CodeNotFound, msg, nil) }

func forbidden(msg string) error { return newError(CodeForbidden, msg, nil) }

func invalidTransition(msg string) error { return newError(CodeInvalidTransition, msg, nil) }

func validation(msg string) error { return newError(CodeValidation, msg, nil) }

func upstream(msg string, err error) error { return newError(CodeUpstream, msg, err) }

// CodeOf возвращает код ошибки или пустую строку для нетипизированных ошибок.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
