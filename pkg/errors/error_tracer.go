package errors

import "github.com/pkg/errors"

// ErrorTracer is an error with a human message and an underlying cause
// that always carries a stack trace.
type ErrorTracer struct {
	Message string
	Err     error
}

// StackTracer is implemented by errors created through github.com/pkg/errors.
type StackTracer interface {
	StackTrace() errors.StackTrace
}

// NewTracer creates a new ErrorTracer with the provided message.
func NewTracer(message string) *ErrorTracer {
	return &ErrorTracer{Message: message}
}

// Wrap attaches err as the cause, adding a stack if it has none.
func (e *ErrorTracer) Wrap(err error) *ErrorTracer {
	e.Err = WithStack(err)
	return e
}

func (e *ErrorTracer) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ErrorTracer) Unwrap() error {
	return e.Err
}

// StackTrace returns the stack of the underlying error, if any.
func (e *ErrorTracer) StackTrace() errors.StackTrace {
	if st, ok := e.Err.(StackTracer); ok {
		return st.StackTrace()
	}
	return nil
}

// WithStack annotates err with the caller's stack unless it already has one.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(StackTracer); ok {
		return err
	}
	return errors.WithStack(err)
}
