package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrGraphNotFound indicates no graph exists with the given id.
	ErrGraphNotFound = errors.New("graph not found")

	// ErrGraphVersionNotFound indicates the graph exists but not the requested version.
	ErrGraphVersionNotFound = errors.New("graph version not found")

	// ErrRunNotFound indicates no run exists with the given id.
	ErrRunNotFound = errors.New("run not found")

	// ErrConcurrencyConflict indicates a conditional write lost against another writer.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrInvalidID indicates an id that cannot be used as a storage key.
	ErrInvalidID = errors.New("invalid id")
)

// GraphError wraps graph-related errors with additional context.
type GraphError struct {
	Op      string // Operation being performed (e.g., "LoadGraph", "SaveGraph")
	GraphID string
	Version int
	Err     error
}

func (e *GraphError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s operation failed for graph %s version %d: %v", e.Op, e.GraphID, e.Version, e.Err)
	}

	return fmt.Sprintf("%s operation failed for graph %s: %v", e.Op, e.GraphID, e.Err)
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for graph errors.
func (e *GraphError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewGraphError creates a new graph error with context.
func NewGraphError(op, graphID string, version int, err error) *GraphError {
	return &GraphError{
		Op:      op,
		GraphID: graphID,
		Version: version,
		Err:     err,
	}
}

// RunError wraps run-related errors with additional context.
type RunError struct {
	Op       string
	RunID    string
	Revision int64
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s at revision %d: %v", e.Op, e.RunID, e.Revision, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, revision int64, err error) *RunError {
	return &RunError{
		Op:       op,
		RunID:    runID,
		Revision: revision,
		Err:      err,
	}
}

// IsGraphNotFound checks if an error indicates a graph or one of its versions was not found.
func IsGraphNotFound(err error) bool {
	return errors.Is(err, ErrGraphNotFound) || errors.Is(err, ErrGraphVersionNotFound)
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsConcurrencyConflict checks if an error indicates a lost conditional write.
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
