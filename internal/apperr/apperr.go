// Package apperr defines the error kinds surfaced by the booking core.
//
// Every error that leaves a service carries a stable Kind and a human readable
// message. Callers branch with errors.Is against the exported sentinels, which
// match any *Error of the same kind regardless of message or wrapped cause.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation           Kind = "validation"
	KindNotFound             Kind = "not_found"
	KindPermission           Kind = "permission_denied"
	KindSlotUnavailable      Kind = "slot_unavailable"
	KindSlotConflict         Kind = "slot_conflict"
	KindOutOfRange           Kind = "out_of_range"
	KindConfiguration        Kind = "configuration"
	KindTransient            Kind = "transient"
	KindUnresolvableConflict Kind = "unresolvable_conflict"
	KindInternal             Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation      = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrPermission      = &Error{Kind: KindPermission, Message: "permission denied"}
	ErrSlotUnavailable = &Error{Kind: KindSlotUnavailable, Message: "slot is not available"}
	ErrSlotConflict    = &Error{Kind: KindSlotConflict, Message: "slot is already booked"}
	ErrOutOfRange      = &Error{Kind: KindOutOfRange, Message: "date is outside the booking horizon"}
	ErrConfiguration   = &Error{Kind: KindConfiguration, Message: "calendar is misconfigured"}
	ErrTransient       = &Error{Kind: KindTransient, Message: "temporarily unavailable, retry later"}
	ErrUnresolvable    = &Error{Kind: KindUnresolvableConflict, Message: "no alternative slot found"}
)

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newf(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

func Permission(format string, args ...any) *Error {
	return newf(KindPermission, format, args...)
}

func SlotUnavailable(format string, args ...any) *Error {
	return newf(KindSlotUnavailable, format, args...)
}

func SlotConflict(format string, args ...any) *Error {
	return newf(KindSlotConflict, format, args...)
}

func OutOfRange(format string, args ...any) *Error {
	return newf(KindOutOfRange, format, args...)
}

func Configuration(format string, args ...any) *Error {
	return newf(KindConfiguration, format, args...)
}

func Unresolvable(format string, args ...any) *Error {
	return newf(KindUnresolvableConflict, format, args...)
}

// Transient wraps cause as a retriable error.
func Transient(cause error, format string, args ...any) *Error {
	e := newf(KindTransient, format, args...)
	e.Err = cause
	return e
}

// Wrap attaches cause to a kinded error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	e := newf(kind, format, args...)
	e.Err = cause
	return e
}

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Retriable reports whether the caller may retry with backoff.
func Retriable(err error) bool {
	return KindOf(err) == KindTransient
}
