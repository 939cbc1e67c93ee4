// Package errors defines the error taxonomy shared by the stock engine.
//
// Per-source failures are recovered locally and stored as data; only catalog
// misses and persistence rejections travel up to the caller of a refresh.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a book id is not resident in the library.
	// It normally means a deletion raced the operation and is not user-visible.
	ErrNotFound = errors.New("book not found")

	// ErrNoResults is returned by the catalog when a query matched nothing.
	// It is distinct from a transport failure.
	ErrNoResults = errors.New("no results")

	// ErrServiceUnavailable is reported when a batch run refreshed nothing at all.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrDuplicateISBN is returned when adding a book whose ISBN is already in the library.
	ErrDuplicateISBN = errors.New("book already in library")
)

// SourceError wraps a failure of one external source.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError creates a SourceError for the named source.
func NewSourceError(source string, err error) *SourceError {
	return &SourceError{Source: source, Err: err}
}

// IsSourceError checks if error is a SourceError
func IsSourceError(err error) bool {
	var srcErr *SourceError
	return errors.As(err, &srcErr)
}

// CatalogMissError means the catalog could not confirm the book being refreshed.
// Without a confirmed catalog item the derived counts cannot be trusted, so the
// whole refresh is aborted.
type CatalogMissError struct {
	ISBN string
	Err  error
}

func (e *CatalogMissError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog has no item for ISBN %s: %v", e.ISBN, e.Err)
	}
	return fmt.Sprintf("catalog has no item for ISBN %s", e.ISBN)
}

func (e *CatalogMissError) Unwrap() error {
	return e.Err
}

// IsCatalogMissError checks if error is a CatalogMissError
func IsCatalogMissError(err error) bool {
	var missErr *CatalogMissError
	return errors.As(err, &missErr)
}

// PersistenceError means the store rejected a write. The in-memory state has
// already been rolled back when this is returned.
type PersistenceError struct {
	Op  string
	ID  int64
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s for book %d: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError checks if error is a PersistenceError
func IsPersistenceError(err error) bool {
	var pErr *PersistenceError
	return errors.As(err, &pErr)
}

// PartialFailureError summarises a batch run where some items failed.
type PartialFailureError struct {
	Succeeded int
	Failed    int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%d succeeded, %d failed", e.Succeeded, e.Failed)
}

// IsPartialFailureError checks if error is a PartialFailureError
func IsPartialFailureError(err error) bool {
	var pfErr *PartialFailureError
	return errors.As(err, &pfErr)
}

// ValidationError reports a rejected user edit (rating out of range, note too long).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError checks if error is a ValidationError
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
