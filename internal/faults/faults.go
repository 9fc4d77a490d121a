// Package faults defines the coded errors this service surfaces to clients.
// Every user-visible failure carries one of the codes below so the gateway
// can map it to a client error event without string matching.
package faults

import (
	"errors"
	"fmt"
)

// Code identifies a failure class in the client-facing error taxonomy.
type Code string

const (
	// CodeSessionNotReady - an audio frame arrived while the session was
	// not in STREAMING state.
	CodeSessionNotReady Code = "SESSION_NOT_READY"
	// CodeASRUnavailable - the external recognizer stayed unreachable
	// after the bounded reconnect budget.
	CodeASRUnavailable Code = "ASR_UNAVAILABLE"
	// CodeEmptyInput - structuring was requested for a blank transcript.
	CodeEmptyInput Code = "EMPTY_INPUT"
	// CodeMissingCredentials - the language-model endpoint is unconfigured.
	CodeMissingCredentials Code = "MISSING_CREDENTIALS"
	// CodeSchemaValidation - the model never produced schema-valid output
	// within the repair retry budget.
	CodeSchemaValidation Code = "AI_SCHEMA_VALIDATION_FAILED"
	// CodeModelTimeout - a single model request timed out. Counts toward
	// the retry budget; surfaced only when every attempt timed out.
	CodeModelTimeout Code = "MODEL_TIMEOUT"
)

// Error is a coded error. The zero Code means "uncoded internal error".
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a coded error with a message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Newf returns a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns a coded error wrapping an underlying cause.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf extracts the fault code from an error chain.
// Returns false if no coded error is present.
func CodeOf(err error) (Code, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code, true
	}
	return "", false
}

// Is reports whether the error chain contains a coded error with the given code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
