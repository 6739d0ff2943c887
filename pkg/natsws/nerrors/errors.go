// Package nerrors defines the error taxonomy shared across the connection
// core, JetStream context, and Object Store: a small set of Kinds, each
// carrying an optional wrapped cause.
package nerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way the connection core and its callers
// need to branch on, not the way an HTTP status code would.
type Kind string

const (
	KindConnection     Kind = "CONNECTION"
	KindAuthentication Kind = "AUTHENTICATION"
	KindServer         Kind = "SERVER"
	KindRequestTimeout Kind = "REQUEST_TIMEOUT"
	KindNoResponders   Kind = "NO_RESPONDERS"
	KindJetStream      Kind = "JETSTREAM"
	KindNotFound       Kind = "NOT_FOUND"
	KindIntegrity      Kind = "INTEGRITY"
)

// Error is the concrete error type returned by this module. Subject and
// Code are optional context the caller can inspect without string-matching
// Message.
type Error struct {
	Kind    Kind
	Message string
	Subject string // the NATS subject involved, if any
	Code    int    // JetStream / status code, if any (e.g. 404, 503)
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Subject != "" && e.Err != nil:
		return fmt.Sprintf("[%s] %s (subject=%s): %v", e.Kind, e.Message, e.Subject, e.Err)
	case e.Subject != "":
		return fmt.Sprintf("[%s] %s (subject=%s)", e.Kind, e.Message, e.Subject)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no subject/code context.
func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// WithSubject attaches a subject to an existing Error without mutating the
// original (callers frequently build a base error once and specialize it
// per subject).
func WithSubject(e *Error, subject string) *Error {
	clone := *e
	clone.Subject = subject
	return &clone
}

func Connection(msg string, err error) *Error {
	return New(KindConnection, msg, err)
}

func Authentication(msg string, err error) *Error {
	return New(KindAuthentication, msg, err)
}

func Server(msg string, err error) *Error {
	return New(KindServer, msg, err)
}

func RequestTimeout(subject string) *Error {
	return &Error{Kind: KindRequestTimeout, Message: "request timed out", Subject: subject}
}

func NoResponders(subject string) *Error {
	return &Error{Kind: KindNoResponders, Message: "no responders are available", Subject: subject, Code: 503}
}

func JetStream(msg string, code int, err error) *Error {
	return &Error{Kind: KindJetStream, Message: msg, Code: code, Err: err}
}

func NotFound(msg, subject string) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Subject: subject, Code: 404}
}

func Integrity(msg, subject string) *Error {
	return &Error{Kind: KindIntegrity, Message: msg, Subject: subject}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain assignable to target.
func As(err error, target any) bool { return errors.As(err, target) }

// KindOf extracts the Kind of err, or "" if err is not (or does not wrap) an
// *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
