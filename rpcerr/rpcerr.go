// Package rpcerr defines the structured errors surfaced to RPC callers.
//
// Every error that crosses the wire carries a stable Kind and a message.
// Transports map the Kind to their own representation: the framed protocol
// sends it verbatim, the HTTP gateway maps it to a status code.
package rpcerr

import (
	"errors"
	"net/http"
)

// Kind is a stable, client-facing error category.
type Kind string

const (
	ParseError          Kind = "PARSE_ERROR"
	BadRequest          Kind = "BAD_REQUEST"
	Unauthorized        Kind = "UNAUTHORIZED"
	Forbidden           Kind = "FORBIDDEN"
	NotFound            Kind = "NOT_FOUND"
	MethodNotSupported  Kind = "METHOD_NOT_SUPPORTED"
	Timeout             Kind = "TIMEOUT"
	TooManyRequests     Kind = "TOO_MANY_REQUESTS"
	InternalServerError Kind = "INTERNAL_SERVER_ERROR"
)

var kinds = map[Kind]struct {
	code   int
	status int
}{
	ParseError:          {-32700, http.StatusBadRequest},
	BadRequest:          {-32600, http.StatusBadRequest},
	Unauthorized:        {-32001, http.StatusUnauthorized},
	Forbidden:           {-32003, http.StatusForbidden},
	NotFound:            {-32004, http.StatusNotFound},
	MethodNotSupported:  {-32005, http.StatusMethodNotAllowed},
	Timeout:             {-32008, http.StatusRequestTimeout},
	TooManyRequests:     {-32029, http.StatusTooManyRequests},
	InternalServerError: {-32603, http.StatusInternalServerError},
}

// Code returns the JSON-RPC style numeric code of the kind.
// Unknown kinds map to the internal error code.
func (k Kind) Code() int {
	if v, ok := kinds[k]; ok {
		return v.code
	}
	return kinds[InternalServerError].code
}

// HTTPStatus returns the HTTP status the gateway uses for the kind.
func (k Kind) HTTPStatus() int {
	if v, ok := kinds[k]; ok {
		return v.status
	}
	return http.StatusInternalServerError
}

// Error is an RPC error with a stable kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Code returns the numeric code of the error's kind.
func (e *Error) Code() int {
	return e.Kind.Code()
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind that keeps cause for errors.Is.
func Wrap(kind Kind, cause error, message string) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// From converts any error into an *Error. Errors that already carry a kind
// keep it; everything else becomes an internal server error.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return Wrap(InternalServerError, err, "")
}

// KindOf returns the kind of err, or the empty kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind
}
