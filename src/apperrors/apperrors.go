// Package apperrors carries the error kinds callers branch on instead of
// matching concrete error types.
package apperrors

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// Transient failures may succeed on a later attempt or a later run.
	Transient
	// Fatal failures need user action (re-linking a bank, for instance).
	Fatal
	PolicyViolation
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	case PolicyViolation:
		return "policy_violation"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Codes surfaced to API callers.
const (
	CodeNotFound         = "not_found"
	CodeInvalidState     = "invalid_state"
	CodeInvalidReference = "invalid_reference"
	CodeAuthRevoked      = "auth_revoked"
	CodeRetryExhausted   = "retry_exhausted"
	CodeIneligible       = "ineligible"
)

type Error struct {
	Kind Kind
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, op, msg string) *Error {
	return &Error{Kind: kind, Code: code, Op: op, Err: errors.New(msg)}
}

func Wrap(kind Kind, code, op string, err error) *Error {
	return &Error{Kind: kind, Code: code, Op: op, Err: err}
}

// Kinder is implemented by error types from other packages that know their kind.
type Kinder interface {
	Kind() Kind
}

// KindOf reports the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
