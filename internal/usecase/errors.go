package usecase

import (
	"errors"
	"fmt"

	"english-tutor/internal/repository"
)

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorNotFound     ErrorCode = "NOT_FOUND"
	ErrorUpstream     ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// storeError classifies a repository failure. reason is used for failures
// that are neither a missing session nor a durability problem.
func storeError(err error, reason string) *Error {
	var perr *repository.PersistenceError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return newError(ErrorNotFound, "session_not_found", err)
	case errors.Is(err, repository.ErrAlreadyExists):
		return newError(ErrorInvalidInput, "session_exists", err)
	case errors.As(err, &perr):
		return newError(ErrorInternal, "store_write_error", err)
	default:
		return newError(ErrorInternal, reason, err)
	}
}
