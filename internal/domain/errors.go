package domain

import "errors"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrConflict        = errors.New("conflict")
	ErrValidation      = errors.New("validation failed")
	ErrForbidden       = errors.New("forbidden")
)

// Error carries a caller-safe message. It unwraps to its Kind so callers
// match on the sentinels above.
type Error struct {
	Kind    error
	Field   string
	Message string
	// Challenge is the WWW-Authenticate value for Unauthenticated errors.
	Challenge string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return e.Kind.Error() + ": " + e.Field + ": " + e.Message
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

func Unauthenticated(msg string) *Error {
	return &Error{Kind: ErrUnauthenticated, Message: msg, Challenge: "Bearer"}
}

// InvalidToken is Unauthenticated with an RFC 6750 invalid_token hint.
func InvalidToken(msg string) *Error {
	return &Error{Kind: ErrUnauthenticated, Message: msg, Challenge: `Bearer error="invalid_token"`}
}

func Conflict(field, msg string) *Error {
	return &Error{Kind: ErrConflict, Field: field, Message: msg}
}

func Validation(field, msg string) *Error {
	return &Error{Kind: ErrValidation, Field: field, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: ErrForbidden, Message: msg}
}

// Message returns the caller-safe message of err, or "" when err is not a
// *Error.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
