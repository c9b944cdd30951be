package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/nexuspro/flows/pkg/models"
)

var (
	ErrGraphInactive   = errors.New("graph is not active")
	ErrAdapter         = errors.New("action adapter failed")
	ErrNodeNotFound    = errors.New("node not found in pinned graph")
	ErrNoBranch        = errors.New("condition has no edge for result")
	ErrRunNotSuspended = errors.New("run is not suspended")
	ErrRunNotRunning   = errors.New("run is not running")
	ErrRunTerminal     = errors.New("run already finished")
	ErrPanic           = errors.New("run panicked")

	// errStopped tells the step loop another writer moved the run out of
	// running and the in-memory state must be discarded.
	errStopped = errors.New("run stopped by another writer")
)

// AdapterError records a failed or timed out action call.
type AdapterError struct {
	NodeID     string
	ActionType models.ActionType
	Timeout    time.Duration
	TimedOut   bool
	Err        error
}

func (e *AdapterError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("action %s at node %s timed out after %s", e.ActionType, e.NodeID, e.Timeout)
	}

	return fmt.Sprintf("action %s at node %s failed: %v", e.ActionType, e.NodeID, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

func (e *AdapterError) Is(target error) bool {
	return target == ErrAdapter
}

// IsAdapterError reports whether err came from an action adapter.
func IsAdapterError(err error) bool {
	return errors.Is(err, ErrAdapter)
}
