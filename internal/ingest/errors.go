package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateKey marks a natural-key collision. It is a terminal,
// non-error outcome for the pipeline, distinct from adapter and store
// failures.
var ErrDuplicateKey = errors.New("invoice already exists for natural key")

// AdapterError reports a failed extraction call: timeout, transport failure,
// or a malformed model response. The attempt is recorded but not retried
// beyond the adapter's own retry policy.
type AdapterError struct {
	Doc string
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.Doc, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// ValidationError reports extracted data that fails the consistency checks.
// Documents with validation errors are routed to manual data entry.
type ValidationError struct {
	Doc      string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Doc, strings.Join(e.Problems, "; "))
}

// StoreError reports an unavailable persistence layer. It is fatal for the
// current document and propagates to the coordinator as a per-document
// failure without aborting the batch.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
