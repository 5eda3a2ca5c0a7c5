/*
errors.go - Centralized error types for the aggregation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The engine never retries and never logs; it returns these errors and the
  calling layer (api, cmd) decides how to surface them.

ERROR CATEGORIES:
  1. Invalid input   - mismatched code lengths, bad dates, unknown levels
  2. Not found       - unknown organisation, section or presentation
  3. Reference data  - concession points at a pack/product missing from
                       the tariff or presentation tables (stale upstream data)

  An empty result is NOT an error. Queries that match nothing return an
  empty slice.

USAGE:
    if core.IsClientError(err) {
        // 400
    }
    if core.IsNotFound(err) {
        // 404
    }

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for client mistakes that must not be coerced.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a referenced code does not exist.
	ErrNotFound = errors.New("not found")

	// ErrReferenceDataMissing is returned when reference tables are stale
	// relative to the records that point at them.
	ErrReferenceDataMissing = errors.New("reference data missing")

	// ErrInvalidPeriod is returned when a month range ends before it starts.
	ErrInvalidPeriod = fmt.Errorf("%w: period ends before it starts", ErrInvalidInput)

	// ErrMixedCodeLengths is returned when BNF codes of different lengths are
	// combined in one query.
	ErrMixedCodeLengths = fmt.Errorf("%w: BNF codes must all be the same length", ErrInvalidInput)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError names the kind and key of a missing record.
type NotFoundError struct {
	Kind string // e.g. "practice", "ccg", "section", "date"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ReferenceDataError reports a concession whose pack, tariff price or
// presentation is missing from the reference tables.
type ReferenceDataError struct {
	Kind         string // "vmpp", "tariff_price", "presentation"
	Key          string
	ConcessionID int64
}

func (e *ReferenceDataError) Error() string {
	return fmt.Sprintf("reference data missing: %s %s (concession %d)", e.Kind, e.Key, e.ConcessionID)
}

func (e *ReferenceDataError) Unwrap() error {
	return ErrReferenceDataMissing
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFoundError.
func NotFound(kind, key string) error {
	return &NotFoundError{Kind: kind, Key: key}
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsReferenceDataMissing returns true for stale reference data.
func IsReferenceDataMissing(err error) bool {
	return errors.Is(err, ErrReferenceDataMissing)
}
