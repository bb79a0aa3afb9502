package core

import (
	"errors"
	"fmt"
)

// Error codes
const (
	ErrGameNotFound        = "GAME_NOT_FOUND"
	ErrIllegalMove         = "ILLEGAL_MOVE"
	ErrBadSignature        = "BAD_SIGNATURE"
	ErrNoVotingPower       = "NO_VOTING_POWER"
	ErrAlreadyVoted        = "ALREADY_VOTED"
	ErrWindowStillOpen     = "WINDOW_STILL_OPEN"
	ErrWindowClosedPending = "WINDOW_CLOSED_PENDING_FINALIZATION"
	ErrNoProposals         = "NO_PROPOSALS"
	ErrDuplicatePairing    = "DUPLICATE_PAIRING"
	ErrInvalidParameters   = "INVALID_PARAMETERS"
	ErrStoreUnavailable    = "STORE_UNAVAILABLE"
	ErrOracleUnavailable   = "ORACLE_UNAVAILABLE"
	ErrGameOver            = "GAME_OVER"
	ErrRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrInvalidContent      = "INVALID_CONTENT_TYPE"
	ErrInvalidRequest      = "INVALID_REQUEST"
	ErrRequestCancelled    = "REQUEST_CANCELLED"
	ErrInternalError       = "INTERNAL_ERROR"
)

// Error is a rule violation or collaborator failure with a stable code
type Error struct {
	Code    string
	Message string
	Err     error
}

// NewError builds an Error without a cause
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error around a collaborator failure
func WrapError(code string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether the failure is transient
func (e *Error) Retryable() bool {
	return IsRetryable(e.Code)
}

// IsRetryable reports whether a code marks a transient failure
func IsRetryable(code string) bool {
	return code == ErrStoreUnavailable || code == ErrOracleUnavailable
}

// CodeOf extracts the code of err, INTERNAL_ERROR when err carries none
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternalError
}

// HasCode reports whether err carries the given code
func HasCode(err error, code string) bool {
	return errors.Is(err, &Error{Code: code})
}
