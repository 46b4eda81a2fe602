package corpchat_errors

import (
	"context"
	"errors"
	"fmt"
)

// Common errors
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrTimeout            = errors.New("persistence timeout")
	ErrRateLimited        = errors.New("rate limited")
	ErrAlreadyExists      = errors.New("already exists")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Kind classifies an error for reporting back to the actor.
type Kind string

const (
	KindValidation  Kind = "VALIDATION_ERROR"
	KindTimeout     Kind = "PERSISTENCE_TIMEOUT"
	KindPermission  Kind = "PERMISSION_ERROR"
	KindStaleTarget Kind = "STALE_TARGET"
	KindRateLimited Kind = "RATE_LIMITED"
	KindInternal    Kind = "INTERNAL_ERROR"
)

// Error carries the kind, the failing operation and a human readable detail.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && e.Detail == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(op, detail string) error {
	return &Error{Kind: KindValidation, Op: op, Detail: detail, Err: ErrInvalidInput}
}

func Permission(op, detail string) error {
	return &Error{Kind: KindPermission, Op: op, Detail: detail, Err: ErrForbidden}
}

func Stale(op, detail string) error {
	return &Error{Kind: KindStaleTarget, Op: op, Detail: detail, Err: ErrNotFound}
}

func RateLimited(op string) error {
	return &Error{Kind: KindRateLimited, Op: op, Detail: "too many requests", Err: ErrRateLimited}
}

// Persistence maps a gateway failure onto the taxonomy. Deadline overruns become
// PersistenceTimeout, missing rows become StaleTarget.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return &Error{Kind: KindTimeout, Op: op, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	case errors.Is(err, ErrNotFound):
		return &Error{Kind: KindStaleTarget, Op: op, Err: err}
	case errors.Is(err, ErrForbidden):
		return &Error{Kind: KindPermission, Op: op, Err: err}
	}
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf reports the taxonomy kind of err; untyped errors are internal.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrUnauthorized):
		return KindPermission
	case errors.Is(err, ErrNotFound):
		return KindStaleTarget
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	}
	return KindInternal
}
