// Package errors provides categorized errors for podnet operations.
//
// Every failure surfaced by the compiler, the topology builder and the apply
// engine carries a Kind. Callers map the Kind to an exit code or a message;
// they never parse error strings.
package errors

import (
	"errors"
	"fmt"
)

// Kind defines the category of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindInternal
	// KindValidation is a malformed or ambiguous spec, detected before any
	// system mutation.
	KindValidation
	// KindConfig is a reference to something outside the closed set of
	// known names, such as an unknown application bundle.
	KindConfig
	KindNotFound
	KindTimeout
	// KindWriteFailed means the target or its backup could not be written.
	// No system state was changed.
	KindWriteFailed
	// KindValidateFailed means the external syntax check rejected the
	// generated content. The prior state was restored.
	KindValidateFailed
	// KindActivateFailed means activation failed after validation passed.
	// The prior state was restored.
	KindActivateFailed
	// KindRollbackFailed means restoring the prior state itself failed.
	// The system may be inconsistent and needs an operator.
	KindRollbackFailed
	// KindAlreadyInState is not a failure: the construct was already in the
	// requested state.
	KindAlreadyInState
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindValidation:
		return "validation"
	case KindConfig:
		return "config"
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindWriteFailed:
		return "write_failed"
	case KindValidateFailed:
		return "validate_failed"
	case KindActivateFailed:
		return "activate_failed"
	case KindRollbackFailed:
		return "rollback_failed"
	case KindAlreadyInState:
		return "already_in_state"
	default:
		return "unknown"
	}
}

// Severity orders kinds so that a more severe failure is never reported as
// a milder one. Higher is worse.
func (k Kind) Severity() int {
	switch k {
	case KindAlreadyInState:
		return 0
	case KindValidation, KindConfig, KindNotFound:
		return 1
	case KindWriteFailed:
		return 2
	case KindValidateFailed, KindActivateFailed, KindTimeout:
		return 3
	case KindRollbackFailed:
		return 5
	default:
		return 4
	}
}

// Error represents a structured podnet error.
type Error struct {
	Kind       Kind
	Message    string
	Underlying error
	Attributes map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// New creates a new Error of the specified kind.
func New(kind Kind, msg string) error {
	return &Error{
		Kind:    kind,
		Message: msg,
	}
}

// Errorf creates a new Error of the specified kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error as a new Error of the specified kind.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:       kind,
		Message:    msg,
		Underlying: err,
	}
}

// Wrapf wraps an existing error as a new Error of the specified kind with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:       kind,
		Message:    fmt.Sprintf(format, args...),
		Underlying: err,
	}
}

// Attr attaches an attribute to an error. If the error is not an *Error, it wraps it as KindInternal.
func Attr(err error, key string, val any) error {
	if err == nil {
		return nil
	}

	var e *Error
	if !errors.As(err, &e) {
		e = &Error{
			Kind:       KindInternal,
			Message:    err.Error(),
			Underlying: err,
		}
	}

	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[key] = val
	return e
}

// GetKind returns the Kind of the outermost *Error in the chain, or KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether the outermost *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && GetKind(err) == kind
}

// GetAttributes returns all attributes associated with the error and its chain.
func GetAttributes(err error) map[string]any {
	attrs := make(map[string]any)
	var e *Error

	tempErr := err
	for tempErr != nil {
		if errors.As(tempErr, &e) {
			for k, v := range e.Attributes {
				if _, ok := attrs[k]; !ok {
					attrs[k] = v
				}
			}
			tempErr = e.Underlying
		} else {
			break
		}
	}

	return attrs
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// Join combines errors, like the standard library's errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
