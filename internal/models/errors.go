package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can tell infrastructure errors
// apart from each other (and from abstention, which is never an error).
type ErrorKind string

const (
	KindIngestion         ErrorKind = "ingestion"
	KindEmbeddingProvider ErrorKind = "embedding_provider"
	KindRetrieval         ErrorKind = "retrieval"
	KindGeneration        ErrorKind = "generation"
	KindGenerationTimeout ErrorKind = "generation_timeout"
	KindConfig            ErrorKind = "config"
	KindNotFound          ErrorKind = "not_found"
)

// Error wraps an underlying error with a kind. The kind survives further
// fmt.Errorf("%w") wrapping and is recovered with KindOf.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with the given kind. A nil err yields a bare kind error.
func E(kind ErrorKind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// Ef wraps a formatted error with the given kind.
func Ef(kind ErrorKind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or "" if err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
