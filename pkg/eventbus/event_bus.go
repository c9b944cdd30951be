// Package eventbus carries trigger events and run lifecycle notifications
// between engine processes over Watermill.
package eventbus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nexuspro/flows/pkg/events"
	"github.com/nexuspro/flows/pkg/models"
)

// Event is a trigger or run lifecycle event. Its type selects the topic.
type Event interface {
	GetType() events.EventType
}

// EventPublisher sends one event under an ordering key. Lifecycle events are
// keyed by run id and trigger events by TriggerKey, so the Kafka transport
// keeps every event of one run, or of one lead, on a single partition.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber routes decoded events to one handler per event type.
// Handlers are registered with Handle before Subscribe starts consuming.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives the decoded event. Returning an error nacks the
// message so the broker redelivers it.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}

// subjectFields name the payload fields that identify who a trigger is about,
// in order of preference.
var subjectFields = []string{"lead_id", "contact_id", "conversation_id"}

// TriggerKey returns the ordering key of a trigger event: the trigger type
// and the first subject field present in payload. Payloads without a subject
// get a fresh ULID and are spread freely.
func TriggerKey(triggerType models.TriggerType, payload map[string]string) string {
	for _, field := range subjectFields {
		if subject := payload[field]; subject != "" {
			return string(triggerType) + ":" + subject
		}
	}

	return string(triggerType) + ":" + watermill.NewULID()
}
