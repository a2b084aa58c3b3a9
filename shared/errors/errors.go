package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// default error is internal service error at handler level
// if error has different status code use ErrorWithStatusCode
type ErrorWithStatusCode struct {
	Message    string
	StatusCode int
}

func (e *ErrorWithStatusCode) Error() string {
	return e.Message
}

// AccessError: the actor or its scope could not be resolved, or the actor
// may not touch the requested thread.
type AccessError struct {
	ActorId string
	Reason  string
	Err     error
}

func (e *AccessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("access denied for %s: %s: %v", e.ActorId, e.Reason, e.Err)
	}
	return fmt.Sprintf("access denied for %s: %s", e.ActorId, e.Reason)
}

func (e *AccessError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Entity string
	Id     string
}

func (e *NotFoundError) Error() string {
	if e.Id == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Id)
}

// ConflictError reports a uniqueness race: a duplicate direct thread or a
// second vote on a single-choice poll.
type ConflictError struct {
	Entity string
	Err    error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conflict on %s: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("conflict on %s", e.Entity)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// TransportError wraps any network or store failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PartialWriteError: multi-step poll creation stopped after Step failed.
// MessageId is the message row that was already written and stays behind.
type PartialWriteError struct {
	Step      string
	MessageId string
	Err       error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("poll creation stopped at %s step, message %s left without poll: %v", e.Step, e.MessageId, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Validation error: %s", e.Message)
}

// Is reports whether any error in err's chain has type T.
func Is[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}

// Typed reports whether err already belongs to the taxonomy above.
func Typed(err error) bool {
	return Is[*AccessError](err) || Is[*NotFoundError](err) || Is[*ConflictError](err) ||
		Is[*TransportError](err) || Is[*PartialWriteError](err) || Is[*ValidationError](err) ||
		Is[*ErrorWithStatusCode](err)
}

// Transport wraps err as a TransportError unless it is already typed.
func Transport(op string, err error) error {
	if err == nil || Typed(err) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

func StatusCode(err error) int {
	var withCode *ErrorWithStatusCode
	if stderrors.As(err, &withCode) {
		return withCode.StatusCode
	}
	switch {
	case Is[*ValidationError](err):
		return http.StatusBadRequest
	case Is[*AccessError](err):
		return http.StatusForbidden
	case Is[*NotFoundError](err):
		return http.StatusNotFound
	case Is[*ConflictError](err):
		return http.StatusConflict
	case Is[*PartialWriteError](err):
		return http.StatusInternalServerError
	case Is[*TransportError](err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
