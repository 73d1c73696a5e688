package errors

import (
	"errors"
	"fmt"
)

// Exit codes reported by the CLI for fatal errors.
const (
	ExitOK                 = 0
	ExitInternal           = 1
	ExitConfiguration      = 2
	ExitMissingDestination = 3
	ExitSubscription       = 4
	ExitConnection         = 5
)

var (
	ErrConfiguration      = NewError("CONFIGURATION_ERROR", "invalid configuration", ExitConfiguration)
	ErrMissingDestination = NewError("MISSING_DESTINATION", "destination does not exist", ExitMissingDestination)
	ErrSubscription       = NewError("SUBSCRIPTION_ERROR", "failed to create subscription", ExitSubscription)
	ErrConnection         = NewError("CONNECTION_ERROR", "broker connection failed", ExitConnection)
	ErrBind               = NewError("BIND_ERROR", "failed to bind routing pattern", ExitOK).AsRecoverable()
	ErrDecode             = NewError("DECODE_ERROR", "failed to decode message", ExitOK).AsRecoverable()
	ErrFilter             = NewError("FILTER_ERROR", "failed to evaluate filter", ExitOK).AsRecoverable()
	ErrInternal           = NewError("INTERNAL_ERROR", "internal error", ExitInternal)
)

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code     string
	Message  string
	ExitCode int
	Details  map[string]interface{}
	Cause    error
	fatal    *bool
}

func NewError(code, message string, exitCode int) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		ExitCode: exitCode,
		Details:  make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code, so errors.Is works
// against the package sentinels after WithCause/WithDetail copies.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// IsFatal reports whether the error must terminate the process. Errors
// raised while consuming (bind, decode, filter) are recoverable.
func (e *Error) IsFatal() bool {
	if e.fatal != nil {
		return *e.fatal
	}
	if e.Cause != nil {
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}
	return e.ExitCode != ExitOK
}

func (e *Error) WithCause(cause error) *Error {
	err := e.clone()
	err.Cause = cause
	return err
}

func (e *Error) WithMessage(message string) *Error {
	err := e.clone()
	err.Message = message
	return err
}

func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := e.clone()
	err.Details[key] = value
	return err
}

func (e *Error) AsFatal() *Error {
	err := e.clone()
	fatal := true
	err.fatal = &fatal
	return err
}

func (e *Error) AsRecoverable() *Error {
	err := e.clone()
	fatal := false
	err.fatal = &fatal
	return err
}

func (e *Error) clone() *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details))
	for k, v := range e.Details {
		err.Details[k] = v
	}
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsConfiguration(err error) bool      { return hasCode(err, ErrConfiguration.Code) }
func IsMissingDestination(err error) bool { return hasCode(err, ErrMissingDestination.Code) }
func IsSubscription(err error) bool       { return hasCode(err, ErrSubscription.Code) }
func IsConnection(err error) bool         { return hasCode(err, ErrConnection.Code) }
func IsBind(err error) bool               { return hasCode(err, ErrBind.Code) }
func IsDecode(err error) bool             { return hasCode(err, ErrDecode.Code) }
func IsFilter(err error) bool             { return hasCode(err, ErrFilter.Code) }

// IsFatal reports whether err should stop the tailer. Unknown errors are
// treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fatalErr FatalError
	if errors.As(err, &fatalErr) {
		return fatalErr.IsFatal()
	}
	return true
}

// ExitCode maps err onto the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var appErr *Error
	if errors.As(err, &appErr) && appErr.ExitCode != ExitOK {
		return appErr.ExitCode
	}
	return ExitInternal
}

// Code returns the error code of err, or an empty string for foreign errors.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
