package model

import (
	"errors"
	"fmt"
)

// Error taxonomy for lifecycle operations. Callers match with errors.Is;
// handlers translate each class to an HTTP status.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotAuthorized = errors.New("not authorized")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrPayment       = errors.New("payment failed")
)

// StatusConflictError is returned when a state guard fails. It carries
// the status actually observed so the caller can resynchronize.
type StatusConflictError struct {
	Reason  string
	Current RequestStatus
}

func (e *StatusConflictError) Error() string {
	if e.Current != "" {
		return fmt.Sprintf("%s (current status: %s)", e.Reason, e.Current)
	}
	return e.Reason
}

func (e *StatusConflictError) Unwrap() error { return ErrConflict }

// Conflictf builds a StatusConflictError from the observed status.
func Conflictf(current RequestStatus, format string, args ...any) error {
	return &StatusConflictError{
		Reason:  fmt.Sprintf(format, args...),
		Current: current,
	}
}
