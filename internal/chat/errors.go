package chat

import (
	"errors"
	"fmt"
)

// Code classifies a failed operation for the acting session.
type Code string

const (
	// Gating rejections.
	CodeWaitForAcceptance Code = "wait_for_acceptance"
	CodeCannotMessage     Code = "cannot_message"
	CodeRespondFirst      Code = "respond_first"

	// Missing entities and bad transitions.
	CodeNoPendingRequest  Code = "no_pending_request"
	CodeNotFound          Code = "not_found"
	CodeInvalidTransition Code = "invalid_transition"

	CodeInvalidRequest Code = "invalid_request"
	CodeRateLimited    Code = "rate_limited"
	CodeInternal       Code = "internal"
)

// Error is a non-fatal, client-reportable failure. Err holds the
// underlying cause for logging and is never shown to clients.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// internalError wraps a storage failure behind a generic message.
func internalError(op string, err error) *Error {
	return &Error{Code: CodeInternal, Message: "something went wrong, please try again", Err: fmt.Errorf("%s: %w", op, err)}
}

// ErrorCode returns the Code of err, or CodeInternal for errors that did
// not originate here.
func ErrorCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// PublicMessage returns the client-safe text for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "something went wrong, please try again"
}
