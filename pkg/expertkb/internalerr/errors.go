// Package internalerr holds the sentinel errors shared by the expertkb
// packages. Callers wrap them with fmt.Errorf and test with errors.Is.
package internalerr

import "errors"

var (
	// ErrNotFound: a named snapshot, rule or fact does not exist. Store
	// lookups report a miss as a boolean instead.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput: malformed condition, conclusion, value, confidence
	// or snapshot document.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicate: an imported snapshot repeats an id or a fact name.
	ErrDuplicate = errors.New("duplicate entry")

	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")
)
