package protocol

import (
	"context"

	"github.com/nexuspro/flows/pkg/models"
)

// TriggerPublisher receives trigger events and starts the runs they match.
type TriggerPublisher interface {
	Publish(ctx context.Context, triggerType models.TriggerType, payload map[string]string) ([]*models.RunRecord, error)
}

// Source is a long-running process that watches an external system and
// publishes trigger events (scheduled ticks, bus messages, queue items).
type Source interface {
	// Start begins emitting events to publisher. It returns once the source
	// is running; work continues in the background until Stop or ctx ends.
	Start(ctx context.Context, publisher TriggerPublisher) error

	// Stop gracefully shuts down the source.
	Stop(ctx context.Context) error

	// Validate checks if the source configuration is valid.
	Validate() error
}
