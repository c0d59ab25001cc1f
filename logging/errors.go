package logging

import (
	"context"
	"errors"
	"net"
	"reflect"
)

var (
	ErrBodyTooLarge  = errors.New("body exceeds size limit")
	ErrClosed        = errors.New("logger closed")
	ErrNoCollector   = errors.New("no collector url configured")
	ErrInvalidConfig = errors.New("invalid config")
)

// TypedError lets an error name its own error_type.
type TypedError interface {
	error
	Type() string
}

// ContextError annotates err with the operation that failed and,
// optionally, an explicit error type.
type ContextError struct {
	Op      string
	Err     error
	ErrType string
}

func (e *ContextError) Error() string {
	if e.Op != "" && e.Err != nil {
		return e.Op + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Op
}

func (e *ContextError) Type() string {
	if e.ErrType != "" {
		return e.ErrType
	}
	return inferErrorType(e.Err)
}

func (e *ContextError) Unwrap() error {
	return e.Err
}

func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ContextError{Op: op, Err: err}
}

func WrapErrorWithType(op string, err error, errType string) error {
	if err == nil {
		return nil
	}
	return &ContextError{Op: op, Err: err, ErrType: errType}
}

func inferErrorType(err error) string {
	if err == nil {
		return ""
	}

	var typed TypedError
	if errors.As(err, &typed) {
		return typed.Type()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	t := reflect.TypeOf(err)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// ErrorType classifies err for the error_type field.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}

	var ctx *ContextError
	if errors.As(err, &ctx) {
		return ctx.Type()
	}

	return inferErrorType(err)
}
