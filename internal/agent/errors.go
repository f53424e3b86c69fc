package agent

import (
	"errors"
	"fmt"

	"github.com/ziadkadry99/askdb/internal/datasource"
)

var (
	// ErrNoQuestion is returned when a question is empty or none is stored
	// for a request id.
	ErrNoQuestion = errors.New("no question found")
	// ErrNoSQL is returned when no SQL is stored for a request id.
	ErrNoSQL = errors.New("no SQL found for this id")
	// ErrNoResults is returned when a request id has not been run yet.
	ErrNoResults = errors.New("no results found for this id")
	// ErrDatabaseNotConfigured is returned by execution when no database
	// is connected.
	ErrDatabaseNotConfigured = datasource.ErrNotConfigured
	// ErrInvalidTraining is returned for a malformed training request.
	ErrInvalidTraining = errors.New("invalid training data")
)

// RetrievalError reports a failed embedding or vector store call.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string { return "retrieval failed: " + e.Err.Error() }
func (e *RetrievalError) Unwrap() error { return e.Err }

// SynthesisError reports a language model transport failure. It is never
// retried by the engine.
type SynthesisError struct {
	Attempt int
	Err     error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed on attempt %d: %v", e.Attempt, e.Err)
}
func (e *SynthesisError) Unwrap() error { return e.Err }

// ValidationError describes SQL that failed static validation.
type ValidationError struct {
	SQL    string
	Reason string
}

func (e *ValidationError) Error() string { return "invalid SQL: " + e.Reason }

// ExecutionError is reported once every correction attempt has failed.
type ExecutionError struct {
	SQL      string
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed after %d attempt(s): %v", e.Attempts, e.Err)
}
func (e *ExecutionError) Unwrap() error { return e.Err }

// IsInputError reports whether err was caused by the caller's request
// rather than by the engine or its collaborators.
func IsInputError(err error) bool {
	return errors.Is(err, ErrNoQuestion) ||
		errors.Is(err, ErrNoSQL) ||
		errors.Is(err, ErrNoResults) ||
		errors.Is(err, ErrDatabaseNotConfigured) ||
		errors.Is(err, ErrInvalidTraining)
}
