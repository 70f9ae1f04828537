package utils

import "errors"

// Kind classifies an AppError at the component boundaries that cross into
// the room synchronization subsystem. Callers branch on Kind, never on the
// message text.
type Kind string

const (
	KindTransportUnavailable Kind = "transport_unavailable"
	KindNoSubscribers        Kind = "no_subscribers"
	KindStream               Kind = "stream"
	KindPersistence          Kind = "persistence"
	KindMalformedMessage     Kind = "malformed_message"
	KindPinFailure           Kind = "pin_failure"
	KindFatalStartup         Kind = "fatal_startup"
	KindNotFound             Kind = "not_found"
	KindInvalidArgument      Kind = "invalid_argument"
)

// AppError is the one error type every package in this module constructs
// through. It carries a stable Kind plus a chain of human-readable detail
// strings appended as context accumulates up the call stack.
type AppError struct {
	Kind    Kind
	Message string
	Details []string
	cause   error
}

func newError(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

func (e *AppError) Error() string {
	s := e.Message
	for _, d := range e.Details {
		s += ": " + d
	}
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// WithDetails returns a copy of e with an additional context string
// appended. The original Kind is preserved, so callers further up the
// stack can still branch on it after repeated wrapping.
func (e *AppError) WithDetails(detail string) *AppError {
	cp := *e
	cp.Details = append(append([]string{}, e.Details...), detail)
	return &cp
}

// WithCause attaches an underlying error for Unwrap/errors.Is chains
// without losing the Kind or accumulated details.
func (e *AppError) WithCause(err error) *AppError {
	cp := *e
	cp.cause = err
	return &cp
}

func NewTransportUnavailableError(message string) *AppError { return newError(KindTransportUnavailable, message) }
func NewNoSubscribersError(message string) *AppError        { return newError(KindNoSubscribers, message) }
func NewStreamError(message string) *AppError               { return newError(KindStream, message) }
func NewPersistenceError(message string) *AppError          { return newError(KindPersistence, message) }
func NewMalformedMessageError(message string) *AppError     { return newError(KindMalformedMessage, message) }
func NewPinFailureError(message string) *AppError            { return newError(KindPinFailure, message) }
func NewFatalStartupError(message string) *AppError          { return newError(KindFatalStartup, message) }
func NewNotFoundError(message string) *AppError               { return newError(KindNotFound, message) }
func NewInvalidArgumentError(message string) *AppError       { return newError(KindInvalidArgument, message) }

// Is reports whether err is an *AppError of the given kind, looking through
// any Unwrap chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if ae, ok := err.(*AppError); ok && ae.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
