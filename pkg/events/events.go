// Package events defines the messages exchanged over the event bus: trigger
// events from collaborators and run lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/nexuspro/flows/pkg/models"
)

type EventType string

// Topics.
const (
	Topic        = "flows.events"   // Run lifecycle notifications
	TriggerTopic = "flows.triggers" // Trigger events published by CRM and chat collaborators
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	TriggerPublishedEvent EventType = "trigger.published"

	RunStartedEvent   EventType = "run.started"
	RunSuspendedEvent EventType = "run.suspended"
	RunResumedEvent   EventType = "run.resumed"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"
	RunCancelledEvent EventType = "run.cancelled"
)

// TopicFor returns the topic an event type travels on.
func TopicFor(eventType EventType) string {
	if eventType == TriggerPublishedEvent {
		return TriggerTopic
	}

	return Topic
}

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func newBase(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// TriggerPublished carries an external event that may start runs.
type TriggerPublished struct {
	BaseEvent

	TriggerType models.TriggerType `json:"trigger_type"`
	Payload     map[string]string  `json:"payload,omitempty"`
}

func (TriggerPublished) GetType() EventType {
	return TriggerPublishedEvent
}

// NewTriggerPublished creates a trigger event.
func NewTriggerPublished(triggerType models.TriggerType, payload map[string]string) *TriggerPublished {
	return &TriggerPublished{
		BaseEvent:   newBase(TriggerPublishedEvent),
		TriggerType: triggerType,
		Payload:     payload,
	}
}

// Run identifies the run an event is about.
type Run struct {
	RunID        string `json:"run_id"`
	GraphID      string `json:"graph_id"`
	GraphVersion int    `json:"graph_version"`
	NodeID       string `json:"node_id,omitempty"`
}

// RunOf extracts the identifying fields of run.
func RunOf(run *models.RunRecord) Run {
	return Run{
		RunID:        run.ID,
		GraphID:      run.GraphID,
		GraphVersion: run.GraphVersion,
		NodeID:       run.CurrentNodeID,
	}
}

type RunStarted struct {
	BaseEvent
	Run

	TriggerType models.TriggerType `json:"trigger_type"`
}

func (RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunSuspended struct {
	BaseEvent
	Run

	ResumeAt time.Time `json:"resume_at"`
}

func (RunSuspended) GetType() EventType {
	return RunSuspendedEvent
}

type RunResumed struct {
	BaseEvent
	Run
}

func (RunResumed) GetType() EventType {
	return RunResumedEvent
}

type RunCompleted struct {
	BaseEvent
	Run

	Variables map[string]string `json:"variables,omitempty"`
}

func (RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent
	Run

	Error string `json:"error"`
}

func (RunFailed) GetType() EventType {
	return RunFailedEvent
}

type RunCancelled struct {
	BaseEvent
	Run
}

func (RunCancelled) GetType() EventType {
	return RunCancelledEvent
}

// ForRun builds the lifecycle event matching the current status of run.
// Running runs map to RunStarted unless resumed is set.
func ForRun(run *models.RunRecord, resumed bool) any {
	info := RunOf(run)

	switch run.Status {
	case models.RunStatusRunning:
		if resumed {
			return &RunResumed{BaseEvent: newBase(RunResumedEvent), Run: info}
		}

		return &RunStarted{BaseEvent: newBase(RunStartedEvent), Run: info, TriggerType: run.TriggerType}
	case models.RunStatusSuspended:
		event := &RunSuspended{BaseEvent: newBase(RunSuspendedEvent), Run: info}
		if run.ResumeAt != nil {
			event.ResumeAt = *run.ResumeAt
		}

		return event
	case models.RunStatusCompleted:
		return &RunCompleted{BaseEvent: newBase(RunCompletedEvent), Run: info, Variables: run.Variables}
	case models.RunStatusFailed:
		return &RunFailed{BaseEvent: newBase(RunFailedEvent), Run: info, Error: run.Error}
	case models.RunStatusCancelled:
		return &RunCancelled{BaseEvent: newBase(RunCancelledEvent), Run: info}
	}

	return nil
}

// New returns an empty event of eventType for decoding, or false when the
// type is unknown.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case TriggerPublishedEvent:
		return &TriggerPublished{}, true
	case RunStartedEvent:
		return &RunStarted{}, true
	case RunSuspendedEvent:
		return &RunSuspended{}, true
	case RunResumedEvent:
		return &RunResumed{}, true
	case RunCompletedEvent:
		return &RunCompleted{}, true
	case RunFailedEvent:
		return &RunFailed{}, true
	case RunCancelledEvent:
		return &RunCancelled{}, true
	}

	return nil, false
}
