// Package apperr carries the error taxonomy shared by services and the HTTP
// layer. Services return *Error values; handlers map Kind to a status code and
// echo Reason so callers (gateways, the dashboard) can branch on it.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindIntegrity
	KindNotFound
	KindConflict
	KindVerification
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindIntegrity:
		return "integrity"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindVerification:
		return "verification"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Integrity(reason, msg string) *Error {
	return &Error{Kind: KindIntegrity, Reason: reason, Message: msg}
}

func NotFound(reason, msg string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, Message: msg}
}

func Conflict(reason, msg string) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: msg}
}

func Verification(reason, msg string) *Error {
	return &Error{Kind: KindVerification, Reason: reason, Message: msg}
}

func Upstream(reason, msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Reason: reason, Message: msg, Err: err}
}

func Internal(reason, msg string, err error) *Error {
	return &Error{Kind: KindInternal, Reason: reason, Message: msg, Err: err}
}

// As extracts an *Error from err. Anything else is reported as internal.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal("internal_error", "internal error", err)
}
