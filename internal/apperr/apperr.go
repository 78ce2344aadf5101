// Package apperr defines the error kinds surfaced by normalization and text
// acquisition. Callers branch on Kind; the message is for humans.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	// KindUnrecognizedFormat means the input does not start like XML or JSON.
	KindUnrecognizedFormat Kind = "unrecognized_format"
	// KindInvalidFormat means the input looked like XML or JSON but failed to parse.
	KindInvalidFormat Kind = "invalid_format"
	// KindEmptyInput means the input was blank or produced no rows.
	KindEmptyInput Kind = "empty_input"
	// KindIO means the input could not be obtained.
	KindIO Kind = "io_error"
)

// Error is the structured error returned by the core and the source layer.
type Error struct {
	Kind   Kind   `json:"kind"`
	Format string `json:"format,omitempty"` // "XML" or "JSON" for KindInvalidFormat
	Detail string `json:"detail,omitempty"`
	Err    error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message()
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Message renders a user-facing sentence without the wrapped cause.
func (e *Error) Message() string {
	switch e.Kind {
	case KindUnrecognizedFormat:
		msg := "unable to detect data format; input must start with '<' (XML) or '{' / '[' (JSON)"
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
		return msg
	case KindInvalidFormat:
		if e.Detail != "" {
			return fmt.Sprintf("invalid %s: %s", e.Format, e.Detail)
		}
		return fmt.Sprintf("invalid %s", e.Format)
	case KindEmptyInput:
		if e.Detail != "" {
			return e.Detail
		}
		return "no input provided"
	case KindIO:
		if e.Detail != "" {
			return "failed to fetch data: " + e.Detail
		}
		return "failed to fetch data"
	default:
		return e.Detail
	}
}

// New creates an Error without a cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap creates an Error carrying err as its cause.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Invalid creates a KindInvalidFormat error for the named format.
func Invalid(format, detail string, err error) *Error {
	return &Error{Kind: KindInvalidFormat, Format: format, Detail: detail, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps err to the status code the API responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnrecognizedFormat, KindInvalidFormat:
		return http.StatusBadRequest
	case KindEmptyInput:
		return http.StatusUnprocessableEntity
	case KindIO:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
