package apperr

import (
	"errors"
)

// Kind classifies a request-facing failure. The kind drives the HTTP status
// code and the fixed public message; the internal reason never leaves the
// process except through logs.
type Kind int

const (
	// KindNotFound covers both genuinely absent resources and resources
	// owned by another tenant. The two cases are intentionally
	// indistinguishable to the caller.
	KindNotFound Kind = iota + 1

	// KindForbidden covers suspended orgs, missing second factors, missing
	// admin roles, disabled capabilities, exhausted quotas and time-window
	// denials. The public message is always the same.
	KindForbidden

	// KindBadRequest covers caller-correctable problems, such as an
	// ambiguous tenant that needs explicit selection. The message is
	// user-actionable and safe to render.
	KindBadRequest

	// KindInternal covers engine faults, such as binding-code keyspace
	// exhaustion.
	KindInternal
)

const (
	msgNotFound  = "not found"
	msgForbidden = "access denied"
	msgInternal  = "internal error"
)

// Error is a request-terminal failure with a public message and a private
// reason. Error() returns only the public message.
type Error struct {
	Kind    Kind
	Message string // safe to render to any caller
	Reason  string // internal cause, for logs only
}

func (e *Error) Error() string {
	return e.Message
}

// NotFound returns a not-found error. The same value is returned whether the
// resource is absent or belongs to another tenant.
func NotFound(reason string) *Error {
	return &Error{Kind: KindNotFound, Message: msgNotFound, Reason: reason}
}

// Forbidden returns an access-denied error with a fixed public message.
func Forbidden(reason string) *Error {
	return &Error{Kind: KindForbidden, Message: msgForbidden, Reason: reason}
}

// BadRequest returns a caller-correctable error. The message is public.
func BadRequest(message string) *Error {
	return &Error{Kind: KindBadRequest, Message: message, Reason: message}
}

// Internal returns an engine-fault error with a fixed public message.
func Internal(reason string) *Error {
	return &Error{Kind: KindInternal, Message: msgInternal, Reason: reason}
}

// KindOf returns the kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// ReasonOf returns the internal reason of err, or the plain error string for
// errors outside the taxonomy. Intended for log fields.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}
