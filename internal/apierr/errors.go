// Package apierr classifies client failures into the four kinds the UI reacts to.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the user-facing failure class.
type Kind string

const (
	KindUnknown            Kind = "unknown"
	KindAuthRequired       Kind = "auth_required"
	KindValidation         Kind = "validation"
	KindTransport          Kind = "transport"
	KindConflictOrNotFound Kind = "conflict_or_not_found"
)

var (
	ErrAuthRequired       = &Error{Kind: KindAuthRequired}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrTransport          = &Error{Kind: KindTransport}
	ErrConflictOrNotFound = &Error{Kind: KindConflictOrNotFound}
)

// Error is a classified failure. Op names the client operation, Status is the
// HTTP status when one was received.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status=%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrTransport) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// AuthRequired reports a missing or rejected session.
func AuthRequired(op, message string) *Error {
	return &Error{Kind: KindAuthRequired, Op: op, Message: message}
}

// Validation reports a missing or malformed field caught before any request.
func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// Transport wraps a network failure.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// FromStatus classifies a non-2xx response.
func FromStatus(op string, status int, message string) *Error {
	e := &Error{Op: op, Status: status, Message: message}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuthRequired
	case status >= 500:
		e.Kind = KindTransport
	case status >= 400:
		e.Kind = KindConflictOrNotFound
	default:
		e.Kind = KindUnknown
	}
	return e
}

// KindOf classifies any error. Context cancellation and other unclassified
// errors report KindTransport, since the operation was abandoned mid-flight.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}
	return KindUnknown
}

// UserMessage is the notice shown to the user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		if KindOf(err) == KindTransport {
			return "Network error. Please try again."
		}
		return err.Error()
	}
	switch e.Kind {
	case KindAuthRequired:
		return "Please log in to continue."
	case KindTransport:
		return "Network error. Please try again."
	case KindValidation, KindConflictOrNotFound:
		if e.Message != "" {
			return e.Message
		}
		if e.Kind == KindValidation {
			return "Please check the form and try again."
		}
		return "The request could not be completed."
	default:
		if e.Message != "" {
			return e.Message
		}
		return "Something went wrong."
	}
}
