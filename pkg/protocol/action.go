// Package protocol defines the contracts between the engine and its pluggable
// collaborators: action adapters and trigger sources.
package protocol

import (
	"context"
	"time"

	"github.com/nexuspro/flows/pkg/models"
)

// ActionAdapter performs the side effect of an action node. Params are
// already interpolated. The returned map is merged into the run variables.
// Implementations must honour ctx cancellation and should return once
// timeout has elapsed.
type ActionAdapter interface {
	Execute(ctx context.Context, actionType models.ActionType, params map[string]string, timeout time.Duration) (map[string]string, error)
}

// Adapter is an ActionAdapter that can be registered for one action type.
type Adapter interface {
	ActionAdapter

	// ID returns the action type handled by this adapter.
	ID() string

	// Name returns the human-readable name for this adapter.
	Name() string

	// Description returns a description of what this adapter does.
	Description() string

	// Schema returns the JSON schema for the params of this adapter.
	Schema() map[string]any
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches the key adapters use to deduplicate redelivered
// calls for the same run and node.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the key attached by the engine, if any.
func IdempotencyKey(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKey{}).(string)

	return key, ok && key != ""
}

// NodeIdempotencyKey builds the key for one node visit of a run.
func NodeIdempotencyKey(runID, nodeID string) string {
	return runID + ":" + nodeID
}
