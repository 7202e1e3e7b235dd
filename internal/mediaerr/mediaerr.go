// Package mediaerr defines the error categories shared across the media
// server's core packages. The HTTP boundary maps a Kind to a status code;
// nothing in here knows about HTTP.
package mediaerr

import "fmt"

// Kind classifies why an operation failed.
type Kind int

const (
	Validation Kind = iota
	NotFound
	Conflict
	IO
	Decode
	Encode
	Concurrency
	Config
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case IO:
		return "io"
	case Decode:
		return "decode"
	case Encode:
		return "encode"
	case Concurrency:
		return "concurrency"
	case Config:
		return "config"
	default:
		return "unknown"
	}
}

// Error is a domain error carrying a Kind and a short human-readable
// message, with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, k Kind) bool {
	if e, ok := err.(*Error); ok {
		return e.Kind == k
	}
	return false
}

func new_(k Kind, format string, args []interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...interface{}) *Error   { return new_(Validation, format, args) }
func NotFoundf(format string, args ...interface{}) *Error     { return new_(NotFound, format, args) }
func Conflictf(format string, args ...interface{}) *Error     { return new_(Conflict, format, args) }
func IOf(format string, args ...interface{}) *Error           { return new_(IO, format, args) }
func Decodef(format string, args ...interface{}) *Error       { return new_(Decode, format, args) }
func Encodef(format string, args ...interface{}) *Error       { return new_(Encode, format, args) }
func Concurrencyf(format string, args ...interface{}) *Error  { return new_(Concurrency, format, args) }
func Configf(format string, args ...interface{}) *Error       { return new_(Config, format, args) }

// Wrap attaches a Kind and message to an existing cause.
func Wrap(k Kind, cause error, format string, args ...interface{}) *Error {
	e := new_(k, format, args)
	e.Cause = cause
	return e
}
