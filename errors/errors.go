// Package errors is the error toolkit for marketpulse.
//
// It re-exports github.com/cockroachdb/errors so every package wraps, annotates
// and inspects errors the same way, with stack traces attached at the point of
// creation:
//
//	if err := store.UpsertState(ctx, st); err != nil {
//	    return errors.Wrapf(err, "update state for %s", symbol)
//	}
//
// Hints are meant for the operator reading CLI output, details for logs.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef

	// Mark makes err satisfy Is(err, reference) without changing its message
	Mark = crdb.Mark

	// Join combines independent failures, nil entries are dropped
	Join = crdb.Join
)

// Operator-facing annotations
var (
	WithHint        = crdb.WithHint
	WithHintf       = crdb.WithHintf
	WithDetail      = crdb.WithDetail
	WithDetailf     = crdb.WithDetailf
	GetAllHints     = crdb.GetAllHints
	GetAllDetails   = crdb.GetAllDetails
	FlattenHints    = crdb.FlattenHints
	FlattenDetails  = crdb.FlattenDetails
	WithSafeDetails = crdb.WithSafeDetails
)

// Inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// GetStack returns the reportable stack trace recorded on err, if any.
var GetStack = crdb.GetReportableStackTrace

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

// Sentinel errors shared across packages. Wrap them to add context;
// check them with errors.Is.
var (
	// ErrNotFound indicates the requested row or symbol does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates malformed input (bad identifier, empty key, bad flag)
	ErrInvalidRequest = New("invalid request")

	// ErrServiceUnavailable indicates an external dependency could not be reached
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation ran out of time
	ErrTimeout = New("operation timed out")

	// ErrConflict indicates a uniqueness conflict that could not be resolved by upsert
	ErrConflict = New("resource conflict")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequest reports whether err is or wraps ErrInvalidRequest.
func IsInvalidRequest(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}
