// Package fault classifies the errors produced on the acquisition path so
// callers can decide between retrying, giving up on a cycle, or stopping the
// process.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Class is the handling classification of an error.
type Class int

const (
	// Transient errors may succeed on a later attempt.
	Transient Class = iota
	// Timeout errors mean a bounded wait expired.
	Timeout
	// Fatal errors cannot be recovered from without operator action.
	Fatal
)

// String returns the string representation of Class.
func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Timeout:
		return "timeout"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	// ErrTimeout is reported when a status-flag poll exceeds its bound.
	ErrTimeout = errors.New("timed out waiting for device")
	// ErrSentinel is reported when a register read yields the 0xFF failure value.
	ErrSentinel = errors.New("register read returned sentinel")
	// ErrRetriesExhausted is reported when every attempt of an operation failed.
	ErrRetriesExhausted = errors.New("maximum retries exceeded")
	// ErrWrongDevice is reported when the hardware identifies as another part.
	ErrWrongDevice = errors.New("unexpected device hardware version")
)

// Error wraps an error with its classification and the operation that produced it.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New classifies err for op. A nil err yields nil.
func New(class Class, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: err}
}

// Transientf builds a transient error from a format string.
func Transientf(op, format string, args ...interface{}) error {
	return &Error{Class: Transient, Op: op, Err: fmt.Errorf(format, args...)}
}

// Fatalf builds a fatal error from a format string.
func Fatalf(op, format string, args ...interface{}) error {
	return &Error{Class: Fatal, Op: op, Err: fmt.Errorf(format, args...)}
}

// ClassOf returns the classification of err. Unclassified errors are treated
// as transient, except for timeouts and context expiry.
func ClassOf(err error) Class {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Transient
}

// IsTransient reports whether err may succeed when retried.
func IsTransient(err error) bool {
	return err != nil && ClassOf(err) == Transient
}

// IsTimeout reports whether err is a bounded-wait expiry.
func IsTimeout(err error) bool {
	return err != nil && ClassOf(err) == Timeout
}

// IsFatal reports whether err must stop the process.
func IsFatal(err error) bool {
	return err != nil && ClassOf(err) == Fatal
}
