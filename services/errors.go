// services/errors.go
package services

import (
	"errors"
	"fmt"
)

// ActionError is a request-level failure with a stable machine-readable code.
// Two ActionErrors match under errors.Is when their codes are equal, so
// validation errors with custom messages still match ErrValidation.
type ActionError struct {
	Code    string
	Message string
}

func (e *ActionError) Error() string { return e.Message }

func (e *ActionError) Is(target error) bool {
	var t *ActionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrValidation       = &ActionError{Code: "validation", Message: "invalid request"}
	ErrNotFound         = &ActionError{Code: "not_found", Message: "match not found"}
	ErrAlreadyJoined    = &ActionError{Code: "already_joined", Message: "match already has two players"}
	ErrCannotJoinOwn    = &ActionError{Code: "cannot_join_own_match", Message: "creator cannot join their own match"}
	ErrWrongPhase       = &ActionError{Code: "wrong_phase", Message: "action not allowed in the current phase"}
	ErrDeadlinePassed   = &ActionError{Code: "deadline_passed", Message: "phase deadline has passed; match cancelled"}
	ErrNotAPlayer       = &ActionError{Code: "not_a_player", Message: "wallet is not a player in this match"}
	ErrAlreadyCommitted = &ActionError{Code: "already_committed", Message: "commit already submitted"}
	ErrNoCommit         = &ActionError{Code: "no_commit", Message: "no commit stored for this player"}
	ErrAlreadyRevealed  = &ActionError{Code: "already_revealed", Message: "choice already revealed"}
	ErrInvalidReveal    = &ActionError{Code: "invalid_reveal", Message: "choice and salt do not match the commit"}
	ErrStoreContention  = &ActionError{Code: "store_conflict", Message: "match is busy, retry"}
)

// validationError returns an ErrValidation carrying a specific message.
func validationError(format string, args ...any) error {
	return &ActionError{Code: ErrValidation.Code, Message: fmt.Sprintf(format, args...)}
}

// ErrorCode extracts the code of an ActionError, or "internal" for anything
// else (store outages, encoding bugs).
func ErrorCode(err error) string {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return "internal"
}
