package core

import (
	"errors"
	"fmt"
)

// Sentinels matched with errors.Is. Each typed error below reports itself as
// its sentinel so callers can branch without errors.As.
var (
	ErrValidation        = errors.New("validation failed")
	ErrDuplicate         = errors.New("duplicate record")
	ErrInvalidState      = errors.New("invalid state")
	ErrPartialCompletion = errors.New("partial completion")
	ErrStore             = errors.New("store failure")
	ErrNotFound          = errors.New("not found")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type DuplicateError struct {
	Collection string
	Field      string
	Value      string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s: %s %q already registered", e.Collection, e.Field, e.Value)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

type InvalidStateError struct {
	Collection string
	ID         string
	Status     Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s", e.Collection, e.ID, e.Status)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// PartialCompletionError means the child record was marked completed, the
// parent counter write failed and restoring the child failed as well.
type PartialCompletionError struct {
	Collection string
	ID         string
	Err        error
	RestoreErr error
}

func (e *PartialCompletionError) Error() string {
	return fmt.Sprintf("%s %s completed without counter rollup: %v (restore: %v)",
		e.Collection, e.ID, e.Err, e.RestoreErr)
}

func (e *PartialCompletionError) Is(target error) bool { return target == ErrPartialCompletion }

func (e *PartialCompletionError) Unwrap() []error { return []error{e.Err, e.RestoreErr} }

type StoreError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreError) Is(target error) bool { return target == ErrStore }

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err unless it already carries a core error kind.
func NewStoreError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStore) || errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidState) {
		return err
	}
	return &StoreError{Op: op, Collection: collection, Err: err}
}
