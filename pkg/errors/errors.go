// Package errors defines the sentinel errors shared across the motif search
// engine and an AppError wrapper that attaches a human-readable message to a
// sentinel while keeping it matchable with errors.Is.
package errors

import (
	"errors"
	"fmt"
)

var (
	// Query-definition errors. These are reported synchronously when a query
	// is built and are never retried.
	ErrDisconnectedMotif    = errors.New("motif residues do not form a connected graph")
	ErrResidueCountMismatch = errors.New("motif residue count does not match requested residues")
	ErrMotifTooLarge        = errors.New("motif exceeds maximum size")
	ErrMotifTooSmall        = errors.New("motif needs at least two residues")
	ErrUnknownResidue       = errors.New("unknown residue")

	ErrInvalidInput     = errors.New("invalid input")
	ErrUnknownStructure = errors.New("unknown structure")
	ErrCorruptBucket    = errors.New("corrupt bucket")
	ErrCorruptBundle    = errors.New("corrupt bundle")
	ErrWriteInProgress  = errors.New("index write already in progress")
)

type AppError struct {
	Err     error
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
	}
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsQueryDefinition reports whether err rejects the shape of a query rather
// than signalling an I/O or internal failure.
func IsQueryDefinition(err error) bool {
	switch {
	case errors.Is(err, ErrDisconnectedMotif),
		errors.Is(err, ErrResidueCountMismatch),
		errors.Is(err, ErrMotifTooLarge),
		errors.Is(err, ErrMotifTooSmall),
		errors.Is(err, ErrUnknownResidue):
		return true
	default:
		return false
	}
}
