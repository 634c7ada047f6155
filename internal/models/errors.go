package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrTransport        = errors.New("secondary store transport error")
	ErrUnsupportedQuery = errors.New("unsupported query")

	ErrMirrorDisabled         = errors.New("secondary store is disabled")
	ErrMigrationInProgress    = errors.New("migration already in progress")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrPaymentAlreadyReleased = errors.New("payment already released")
	ErrPaymentNotPaid         = errors.New("payment must be fully paid before release")
	ErrPaymentNotYetAvailable = errors.New("payment release not yet available")
)

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a reference to an id that does not exist.
type NotFoundError struct {
	Kind EntityKind
	ID   int64
	Key  string
}

func (e *NotFoundError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s not found", e.Kind, e.Key)
	}
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError reports a uniqueness violation. ExistingID is set when the
// conflicting record is known so callers can choose to reuse it.
type ConflictError struct {
	Kind       EntityKind
	Field      string
	Value      string
	ExistingID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s with %s %q already exists", e.Kind, e.Field, e.Value)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// TransportError wraps a secondary store driver failure.
type TransportError struct {
	Op   string
	Kind EntityKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("secondary store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("secondary store %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// UnsupportedQueryError is a programming error: a filter or sort neither backend implements.
type UnsupportedQueryError struct {
	Reason string
}

func (e *UnsupportedQueryError) Error() string {
	return fmt.Sprintf("unsupported query: %s", e.Reason)
}

func (e *UnsupportedQueryError) Is(target error) bool { return target == ErrUnsupportedQuery }

func NewUnsupportedQuery(format string, args ...any) error {
	return &UnsupportedQueryError{Reason: fmt.Sprintf(format, args...)}
}
