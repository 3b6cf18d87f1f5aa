package rki

import (
	"errors"
	"fmt"
)

// Layout errors. They signal that the source page changed shape.
var (
	ErrTableNotFound          = errors.New("table not found")
	ErrNoRows                 = errors.New("zero rows after mapping")
	ErrTimestampBlockNotFound = errors.New("timestamp paragraph not found")
	ErrTimestampNotFound      = errors.New("no update timestamp in paragraph")
)

// NetworkError reports a failed fetch of the source page.
type NetworkError struct {
	URL        string
	StatusCode int
	BodySize   int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d (%d bytes): %v", e.URL, e.StatusCode, e.BodySize, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError reports that the table or the timestamp could not be extracted.
type ParseError struct {
	Stage string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NormalizationError reports a cell that is not numeric after cleaning.
type NormalizationError struct {
	Row   int
	State string
	Field string
	Value string
	Err   error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize row %d (%s) field %s value %q: %v", e.Row, e.State, e.Field, e.Value, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// PersistenceError reports a failed store write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
