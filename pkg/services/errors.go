// Package services implements the graph and run operations behind the API and CLI.
package services

import (
	"errors"
	"fmt"

	"github.com/nexuspro/flows/pkg/engine"
	"github.com/nexuspro/flows/pkg/graph"
	"github.com/nexuspro/flows/pkg/persistence"
	"github.com/nexuspro/flows/pkg/trigger"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest     = errors.New("invalid request")
	ErrUnsupportedFormat  = errors.New("unsupported graph format")
	ErrGraphNil           = errors.New("graph cannot be nil")
	ErrUnknownTriggerType = trigger.ErrUnknownTriggerType

	// Business Logic Conflicts (409 Conflict).
	ErrGraphInactive = engine.ErrGraphInactive
	ErrRunTerminal   = engine.ErrRunTerminal
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrGraphNil) ||
		errors.Is(err, ErrUnknownTriggerType) ||
		errors.Is(err, trigger.ErrInvalidTick) ||
		graph.IsValidationError(err)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrGraphInactive) ||
		errors.Is(err, ErrRunTerminal) ||
		persistence.IsConcurrencyConflict(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
