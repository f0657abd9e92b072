package aggregate

import (
	"errors"
	"fmt"
)

var (
	// ErrNoReferenceSource means no sources were configured at all.
	ErrNoReferenceSource = errors.New("aggregate: no reference source configured")
	// ErrInvalidTopN is returned for a non-positive working set size.
	ErrInvalidTopN = errors.New("aggregate: top n must be positive")
	// ErrEmptyToken is returned for a blank instrument lookup.
	ErrEmptyToken = errors.New("aggregate: empty token")
)

// ReferenceFetchError wraps a failed snapshot from the reference source.
type ReferenceFetchError struct {
	Source string
	Err    error
}

func (e *ReferenceFetchError) Error() string {
	return fmt.Sprintf("reference source %s: fetch all: %v", e.Source, e.Err)
}

func (e *ReferenceFetchError) Unwrap() error { return e.Err }

// SourceError is a lookup that failed on one source. It never escapes the
// per-instrument fan-out; it is logged and the source contributes nothing.
type SourceError struct {
	Source string
	Symbol string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Symbol, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
