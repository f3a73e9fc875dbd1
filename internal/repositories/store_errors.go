package repositories

import "fmt"

// StoreErrorKind classifies store failures so services can map them without knowing the backend.
type StoreErrorKind string

const (
	StoreErrorNotFound    StoreErrorKind = "not_found"
	StoreErrorConflict    StoreErrorKind = "conflict"
	StoreErrorUnavailable StoreErrorKind = "unavailable"
	// StoreErrorBackend is any other backend failure; it is neither retried nor mapped.
	StoreErrorBackend StoreErrorKind = "backend"
)

// StoreError is a RepositoryError with an explicit kind.
type StoreError struct {
	Op      string
	Kind    StoreErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == StoreErrorNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == StoreErrorConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == StoreErrorUnavailable }

// NewNotFoundError reports a missing document.
func NewNotFoundError(op, collection, id string) *StoreError {
	return &StoreError{Op: op, Kind: StoreErrorNotFound, Message: fmt.Sprintf("%s/%s not found", collection, id)}
}

// NewConflictError reports a write that lost against a concurrent writer.
func NewConflictError(op, message string) *StoreError {
	return &StoreError{Op: op, Kind: StoreErrorConflict, Message: message}
}

var _ RepositoryError = (*StoreError)(nil)
