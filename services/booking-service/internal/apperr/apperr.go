// Package apperr defines the error kinds returned by the booking core.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	InvalidInput      Kind = "InvalidInput"
	PastDate          Kind = "PastDate"
	RoleLimitExceeded Kind = "RoleLimitExceeded"
	DebtBlocked       Kind = "DebtBlocked"
	DuplicateService  Kind = "DuplicateService"
	SlotConflict      Kind = "SlotConflict"
	CapacityExceeded  Kind = "CapacityExceeded"
	SystemBusy        Kind = "SystemBusy"
	InvalidState      Kind = "InvalidState"
	WindowClosed      Kind = "WindowClosed"
	LimitExceeded     Kind = "LimitExceeded"
	NotOwner          Kind = "NotOwner"
	NotFound          Kind = "NotFound"
)

// Error implements error so a Kind can be used directly as an errors.Is target.
func (k Kind) Error() string { return string(k) }

type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the caller should retry the same request with backoff.
func Retryable(err error) bool {
	return KindOf(err) == SystemBusy
}
