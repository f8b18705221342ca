package core

import (
	"errors"
	"fmt"
)

// Error classes. Every pipeline failure is wrapped in an *Error whose
// Class is one of these, so callers can branch with errors.Is.
var (
	ErrValidation        = errors.New("invalid review request")
	ErrQuotaExceeded     = errors.New("review quota exceeded for billing period")
	ErrTransientIO       = errors.New("transient I/O failure")
	ErrPermanentProvider = errors.New("AI provider rejected the request")
	ErrParse             = errors.New("malformed AI output")
	ErrDeliveryRejected  = errors.New("pull request is no longer reviewable")
	ErrDeliveryUncertain = errors.New("delivery outcome unknown")
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrCancelled         = errors.New("review cancelled")
	ErrDuplicateAttempt  = errors.New("another attempt for this job is in flight")
)

// Error is a classified pipeline error carrying an explicit retry flag.
type Error struct {
	Class     error
	Retryable bool
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Class, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Class, e.Err)
	default:
		return e.Class.Error()
	}
}

// Unwrap exposes both the class sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Err}
}

// Transient wraps err as a retryable I/O failure.
func Transient(err error, msg string) *Error {
	return &Error{Class: ErrTransientIO, Retryable: true, Msg: msg, Err: err}
}

// Uncertain wraps err as a retryable delivery whose outcome is unknown.
// The next attempt asks the sink whether the review landed before posting.
func Uncertain(err error, msg string) *Error {
	return &Error{Class: ErrDeliveryUncertain, Retryable: true, Msg: msg, Err: err}
}

// Permanent wraps err under class as a non-retryable failure.
func Permanent(class, err error, msg string) *Error {
	return &Error{Class: class, Retryable: false, Msg: msg, Err: err}
}

// NewValidationError reports malformed user input.
func NewValidationError(format string, args ...any) *Error {
	return Permanent(ErrValidation, nil, fmt.Sprintf(format, args...))
}

// NewParseError reports a malformed piece of model output.
func NewParseError(msg string) *Error {
	return Permanent(ErrParse, nil, msg)
}

// IsRetryable reports whether retrying unchanged input may succeed.
// Classified errors carry their own flag; anything else, including an
// expired deadline, is treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return true
}
