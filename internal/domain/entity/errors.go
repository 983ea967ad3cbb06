package entity

import (
	"errors"
	"fmt"
)

// ErrorKind classifies domain errors so the delivery layer can map them to responses
type ErrorKind string

const (
	KindValidation    ErrorKind = "VALIDATION_ERROR"
	KindStateConflict ErrorKind = "STATE_CONFLICT"
	KindAccessDenied  ErrorKind = "ACCESS_DENIED"
	KindNotFound      ErrorKind = "NOT_FOUND"
	KindIntegrity     ErrorKind = "INTEGRITY_VIOLATION"
)

// Error is a domain error carrying its kind and a human-readable reason
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is matches any domain error of the same kind, so errors.Is(err, ErrStateConflict) works
// for every state conflict regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrStateConflict = &Error{Kind: KindStateConflict}
	ErrNotFound      = &Error{Kind: KindNotFound, Message: "not found"}
	ErrIntegrity     = &Error{Kind: KindIntegrity}

	// ErrAccessDenied is the only authorization error ever returned; it never says which
	// part of a token or link was wrong.
	ErrAccessDenied = &Error{Kind: KindAccessDenied, Message: "access denied"}
)

func NewValidationError(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewStateConflictError(format string, args ...interface{}) error {
	return &Error{Kind: KindStateConflict, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first domain error in err's chain, or "" for
// infrastructure errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
