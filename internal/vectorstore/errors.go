package vectorstore

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

var (
	ErrInvalidDocument = errors.New("invalid document")
	ErrInvalidQuery    = errors.New("invalid query")
	ErrConnection      = errors.New("connection failure")
	ErrBackend         = errors.New("backend error")
)

// StoreError adds the failing operation and index to an error
type StoreError struct {
	Op    string
	Index string
	Err   error
}

func (e *StoreError) Error() string {
	if e.Index != "" {
		return fmt.Sprintf("%s [index=%s]: %v", e.Op, e.Index, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func newStoreError(op, index string, err error) *StoreError {
	return &StoreError{Op: op, Index: index, Err: err}
}

// BulkError reports documents the engine rejected inside an otherwise
// successful bulk request.
type BulkError struct {
	Index  string
	Failed int
	Total  int
	Err    error // every item failure, combined
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("bulk write [index=%s]: %d of %d documents rejected: %v", e.Index, e.Failed, e.Total, e.Err)
}

// Unwrap exposes ErrBackend alongside the individual item failures.
func (e *BulkError) Unwrap() []error {
	return []error{ErrBackend, e.Err}
}

// Errors returns the individual item failures.
func (e *BulkError) Errors() []error {
	return multierr.Errors(e.Err)
}

func invalidDocument(i int, format string, args ...any) error {
	return fmt.Errorf("%w: document %d: %s", ErrInvalidDocument, i, fmt.Sprintf(format, args...))
}

func invalidQuery(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
